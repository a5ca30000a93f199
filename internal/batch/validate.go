package batch

import (
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cuongbtq/credit-batch/internal/batch/domain"
)

// Limits bounds what a single item may carry
type Limits struct {
	MaxItemBytes      int
	AllowedMediaTypes []string
}

// ValidateItem checks an item before it is sent to the provider
func (l Limits) ValidateItem(item *domain.WorkItem) error {
	payloadRules := []validation.Rule{validation.Required}
	if l.MaxItemBytes > 0 {
		payloadRules = append(payloadRules, validation.Length(1, l.MaxItemBytes))
	}

	mediaRules := []validation.Rule{validation.Required}
	if len(l.AllowedMediaTypes) > 0 {
		allowed := make([]interface{}, 0, len(l.AllowedMediaTypes))
		for _, mt := range l.AllowedMediaTypes {
			allowed = append(allowed, mt)
		}
		mediaRules = append(mediaRules, validation.In(allowed...).Error("unsupported media type"))
	}

	err := validation.ValidateStruct(item,
		validation.Field(&item.Payload, payloadRules...),
		validation.Field(&item.MediaType, mediaRules...),
	)
	if err != nil {
		return &domain.ValidationError{Index: item.Index, Reason: err.Error()}
	}
	return nil
}

// validateSubmission rejects requests that can never run
func validateSubmission(sub *domain.Submission, maxBatchSize int) error {
	return validation.ValidateStruct(sub,
		validation.Field(&sub.AccountID, validation.Required),
		validation.Field(&sub.Items, validation.Required, validation.Length(1, maxBatchSize)),
		validation.Field(&sub.PerItemCost, validation.Min(int64(0)), validation.Max(maxPerItemCost(maxBatchSize))),
		validation.Field(&sub.ConcurrencyLimit, validation.Min(0)),
	)
}

// maxPerItemCost keeps itemCount*cost from overflowing for any accepted batch
func maxPerItemCost(maxBatchSize int) int64 {
	if maxBatchSize <= 0 {
		return domain.MaxPerItemCost
	}
	return min(domain.MaxPerItemCost, math.MaxInt64/int64(maxBatchSize))
}
