package sessionlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/leofalp/polychat/providers/ai"
)

// Record is one dispatched completion.
type Record struct {
	Provider  string               `json:"provider"`
	Model     string               `json:"model"`
	Turns     []ai.Turn            `json:"turns"`
	Functions []ai.FunctionSpec    `json:"functions,omitempty"`
	Options   ai.GenerationOptions `json:"options"`
	Response  *ai.Response         `json:"response,omitempty"`
	Error     string               `json:"error,omitempty"`
	Cached    bool                 `json:"cached,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Duration  time.Duration        `json:"duration_ns"`
}

// Log is an append-only, in-memory record of every dispatch. It is safe for
// concurrent use.
type Log struct {
	mu            sync.Mutex
	records       []Record
	totalUsage    ai.Usage
	functionStats map[string]int
}

// New creates an empty Log.
func New() *Log {
	return &Log{functionStats: make(map[string]int)}
}

// Append stores a deep copy of record, so later mutation of the caller's
// turns or response does not change what was logged.
func (l *Log) Append(record Record) error {
	clone, err := cloneRecord(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, clone)
	if clone.Response == nil || clone.Cached {
		return nil
	}
	if usage := clone.Response.Usage; usage != nil {
		l.totalUsage.PromptTokens += usage.PromptTokens
		l.totalUsage.CompletionTokens += usage.CompletionTokens
		l.totalUsage.TotalTokens += usage.TotalTokens
	}
	for _, call := range clone.Response.FunctionCalls {
		l.functionStats[call.Name]++
	}
	return nil
}

// Records returns deep copies of the logged records in append order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, record := range l.records {
		clone, err := cloneRecord(record)
		if err != nil {
			// Stored records were produced by cloneRecord, so they always re-encode.
			clone = record
		}
		out = append(out, clone)
	}
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// TotalUsage sums the token usage of every logged response.
func (l *Log) TotalUsage() ai.Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUsage
}

// FunctionCallStats counts function calls requested by the models, by name.
func (l *Log) FunctionCallStats() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.functionStats))
	for name, count := range l.functionStats {
		out[name] = count
	}
	return out
}

type export struct {
	Records       []Record       `json:"records"`
	TotalUsage    ai.Usage       `json:"total_usage"`
	FunctionCalls map[string]int `json:"function_calls,omitempty"`
}

// WriteJSON writes the log as an indented JSON document.
func (l *Log) WriteJSON(w io.Writer) error {
	document := export{
		Records:       l.Records(),
		TotalUsage:    l.TotalUsage(),
		FunctionCalls: l.FunctionCallStats(),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(document); err != nil {
		return fmt.Errorf("sessionlog: writing JSON: %w", err)
	}
	return nil
}

// cloneRecord deep-copies a record through a JSON round trip. Parameter
// metadata of function specs is not serialized and is dropped.
func cloneRecord(record Record) (Record, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return Record{}, fmt.Errorf("sessionlog: encoding record: %w", err)
	}
	var clone Record
	if err := json.Unmarshal(encoded, &clone); err != nil {
		return Record{}, fmt.Errorf("sessionlog: decoding record: %w", err)
	}
	return clone, nil
}
