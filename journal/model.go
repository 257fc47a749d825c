package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/llmflow/envelope"
)

// Record 是 CallRecord 的持久化形态, 一次逻辑调用一行。
// 尝试明细以 JSON 文本列存放, 聚合查询只碰摊平的数值列。
type Record struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	CallID string `gorm:"size:36;not null;uniqueIndex:uk_call_records_call_id" json:"call_id"`

	Endpoint string `gorm:"size:100;not null;index:idx_call_records_endpoint" json:"endpoint"`
	Model    string `gorm:"size:100" json:"model"`
	Outcome  string `gorm:"size:32;not null;index:idx_call_records_outcome" json:"outcome"`

	// ScopeChain 逗号连接, 最内层在前。
	ScopeChain string `gorm:"type:text" json:"scope_chain"`

	EstimatedTokens  int     `gorm:"default:0" json:"estimated_tokens"`
	PromptTokens     int     `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int     `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int     `gorm:"default:0" json:"total_tokens"`
	Cost             float64 `gorm:"type:decimal(12,6);default:0" json:"cost"`

	AttemptCount int    `gorm:"default:0" json:"attempt_count"`
	Attempts     string `gorm:"type:text" json:"attempts"`

	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `gorm:"index:idx_call_records_finished_at" json:"finished_at"`
	DurationMS      int64     `gorm:"default:0" json:"duration_ms"`
	AdmissionWaitMS int64     `gorm:"default:0" json:"admission_wait_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName 固定表名, 与迁移脚本保持一致。
func (Record) TableName() string { return "call_records" }

// newRecord 把终态化的调用记录摊平成一行。
func newRecord(src *envelope.CallRecord) (*Record, error) {
	if src == nil {
		return nil, fmt.Errorf("call record is nil")
	}
	if src.FinishedAt.IsZero() {
		return nil, fmt.Errorf("call record %s is not finalized", src.ID)
	}

	attempts := "[]"
	if len(src.Attempts) > 0 {
		data, err := json.Marshal(src.Attempts)
		if err != nil {
			return nil, fmt.Errorf("marshal attempts: %w", err)
		}
		attempts = string(data)
	}

	return &Record{
		CallID:           src.ID,
		Endpoint:         src.Endpoint,
		Model:            src.Model,
		Outcome:          string(src.Outcome),
		ScopeChain:       strings.Join(src.ScopeChain, ","),
		EstimatedTokens:  src.EstimatedTokens,
		PromptTokens:     src.PromptTokens,
		CompletionTokens: src.CompletionTokens,
		TotalTokens:      src.TotalTokens,
		Cost:             src.Cost,
		AttemptCount:     len(src.Attempts),
		Attempts:         attempts,
		StartedAt:        src.StartedAt,
		FinishedAt:       src.FinishedAt,
		DurationMS:       src.Duration().Milliseconds(),
		AdmissionWaitMS:  src.AdmissionWait.Milliseconds(),
	}, nil
}

// Scopes 还原作用域链, 最内层在前。
func (r *Record) Scopes() []string {
	if r.ScopeChain == "" {
		return nil
	}
	return strings.Split(r.ScopeChain, ",")
}

// AttemptList 还原尝试明细。
func (r *Record) AttemptList() ([]envelope.Attempt, error) {
	if r.Attempts == "" || r.Attempts == "[]" {
		return nil, nil
	}
	var attempts []envelope.Attempt
	if err := json.Unmarshal([]byte(r.Attempts), &attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	return attempts, nil
}
