package models

import "time"

// TraceModel is the durable row shape for entity.Trace.
type TraceModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	SessionRef        string `gorm:"index;size:64;not null"`
	AgentName         string `gorm:"size:128;not null"`
	Provider          string `gorm:"size:64"`
	Model             string `gorm:"size:128"`
	StartedAt         time.Time `gorm:"index"`
	LatencyMS         int64
	InputTokens       int
	OutputTokens      int
	RequestBody       string `gorm:"type:text"`
	ResponseContent   string `gorm:"type:text"`
	ResponseToolCalls string `gorm:"type:text"`
	Error             string `gorm:"type:text"`
}

// TableName pins the table name independent of struct renames.
func (TraceModel) TableName() string { return "traces" }

// ToolCallRecordModel is the durable row shape for entity.ToolCallRecord
// (§4.5: "Data captured per tool execution"), linked to the Trace whose
// model response requested it.
type ToolCallRecordModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	TraceID    string `gorm:"index;size:64;not null"`
	Name       string `gorm:"size:128;not null"`
	Arguments  string `gorm:"type:text"`
	Output     string `gorm:"type:text"`
	Status     string `gorm:"size:16"`
	Success    bool
	DurationMS int64
	StartedAt  time.Time `gorm:"index"`
}

// TableName pins the table name independent of struct renames.
func (ToolCallRecordModel) TableName() string { return "tool_call_records" }
