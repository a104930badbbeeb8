package services

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateReference(t *testing.T) {
	refPattern := regexp.MustCompile(`^TXN-\d{13}-[0-9A-Z]{6}$`)

	t.Run("format", func(t *testing.T) {
		ref := GenerateReference("TXN")
		assert.Regexp(t, refPattern, ref)
	})

	t.Run("embeds current timestamp", func(t *testing.T) {
		before := time.Now().UnixMilli()
		ref := GenerateReference("PAY")
		after := time.Now().UnixMilli()

		parts := strings.Split(ref, "-")
		assert.Len(t, parts, 3)

		millis, err := strconv.ParseInt(parts[1], 10, 64)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, millis, before)
		assert.LessOrEqual(t, millis, after)
	})

	t.Run("distinct prefixes per operation", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(GenerateReference("DEP"), "DEP-"))
		assert.True(t, strings.HasPrefix(GenerateReference("WDL"), "WDL-"))
		assert.True(t, strings.HasPrefix(GenerateReference("EMI"), "EMI-"))
	})

	t.Run("no collisions in a burst", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			ref := GenerateReference("TXN")
			assert.False(t, seen[ref], "duplicate reference %s", ref)
			seen[ref] = true
		}
	})
}
