// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

func TestTierOrderAttribute(t *testing.T) {
	attr := TierOrderAttribute([]tier.Name{tier.Code, tier.Human})
	if string(attr.Key) != AttrTierOrder {
		t.Errorf("unexpected key %s", attr.Key)
	}
	got := attr.Value.AsStringSlice()
	if len(got) != 2 || got[0] != "code" || got[1] != "human" {
		t.Errorf("unexpected value %v", got)
	}
}

func TestErrorAttributes(t *testing.T) {
	if attrs := ErrorAttributes(nil); attrs != nil {
		t.Errorf("expected no attributes for nil error, got %v", attrs)
	}

	err := errors.New(tier.Agentic, errors.CodeBudgetExceeded, false, "out of tokens", nil)
	attrs := ErrorAttributes(err)
	values := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		values[kv.Key] = kv.Value
	}

	if values[AttrErrorCode].AsString() != "BUDGET_EXCEEDED" {
		t.Errorf("unexpected code attribute %v", values[AttrErrorCode])
	}
	if values[AttrErrorTier].AsString() != "agentic" {
		t.Errorf("unexpected tier attribute %v", values[AttrErrorTier])
	}
	if values[AttrRetryable].AsBool() {
		t.Errorf("expected retryable=false")
	}
	if values[AttrErrorMessage].AsString() != "out of tokens" {
		t.Errorf("unexpected message attribute %v", values[AttrErrorMessage])
	}
}
