package services

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const referenceSuffixLen = 6

// GenerateReference builds a human-readable transaction reference of the
// form PREFIX-<unix millis>-<6 char base36 suffix>. References are unique
// enough for customer support lookups; the database id remains the
// canonical key.
func GenerateReference(prefix string) string {
	suffix := strings.ToUpper(strconv.FormatInt(rand.Int63n(2176782336), 36)) // 36^6
	for len(suffix) < referenceSuffixLen {
		suffix = "0" + suffix
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}
