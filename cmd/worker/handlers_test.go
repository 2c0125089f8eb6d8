package main

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/item"
)

func TestHandlers(t *testing.T) {
	tests := []struct {
		queue   string
		payload string
		wantErr bool
	}{
		{"default", `{}`, false},
		{"compute", `{"iterations":10}`, false},
		{"compute", `"not an object"`, true},
		{"flaky", `{"failure_rate":1}`, true},
		{"flaky", `[]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.queue+" "+tt.payload, func(t *testing.T) {
			h := handlerFor(tt.queue, zap.NewNop())
			err := h(context.Background(), item.New(1, json.RawMessage(tt.payload)))
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
