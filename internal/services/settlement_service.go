package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/desibank/backend/internal/config"
	"github.com/desibank/backend/internal/models"
)

// SettlementService turns interbank payments into ISO 20022 pacs.008
// messages and queues them for the clearing house. Messages are queued
// only after the ledger transaction commits.
type SettlementService struct {
	redis *redis.Client
	cfg   *config.PaymentConfig
}

func NewSettlementService(redisClient *redis.Client, cfg *config.PaymentConfig) *SettlementService {
	return &SettlementService{
		redis: redisClient,
		cfg:   cfg,
	}
}

type settlementEnvelope struct {
	Reference   string    `json:"reference"`
	MessageType string    `json:"messageType"`
	XML         string    `json:"xml"`
	QueuedAt    time.Time `json:"queuedAt"`
}

// QueuePayment converts a payment to pacs.008 and pushes it onto the
// settlement queue.
func (ss *SettlementService) QueuePayment(ctx context.Context, payment *models.Payment) error {
	doc, err := ss.CreatePacs008(payment)
	if err != nil {
		return fmt.Errorf("build pacs.008 for %s: %w", payment.Reference, err)
	}

	xmlData, err := ss.ConvertToXML(doc)
	if err != nil {
		return err
	}

	if ss.redis == nil {
		log.Printf("[SETTLEMENT] Queue not configured, dropping message for %s", payment.Reference)
		return nil
	}

	envelope, err := json.Marshal(settlementEnvelope{
		Reference:   payment.Reference,
		MessageType: "pacs.008.001.08",
		XML:         xmlData,
		QueuedAt:    time.Now(),
	})
	if err != nil {
		return err
	}

	if err := ss.redis.RPush(ctx, ss.cfg.SettlementQueue, string(envelope)).Err(); err != nil {
		return fmt.Errorf("queue settlement message for %s: %w", payment.Reference, err)
	}

	log.Printf("[SETTLEMENT] Queued pacs.008 for payment %s", payment.Reference)
	return nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message
func (ss *SettlementService) CreatePacs008(payment *models.Payment) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := payment.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(payment.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(payment.ID)}[0],
					EndToEndId: common.Max35Text(payment.Reference),
					TxId:       &[]common.Max35Text{common.Max35Text(payment.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(payment.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(ss.cfg.BankBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(payment.AccountID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(payment.RecipientBank),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(payment.RecipientName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report
func (ss *SettlementService) CreatePacs002(payment *models.Payment, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(payment.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(payment.Reference)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(payment.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts an ISO 20022 document to an XML string
func (ss *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
