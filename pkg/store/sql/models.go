package sql

import "time"

// SessionRow is the per-session sequence counters relation.
type SessionRow struct {
	BeginString  string    `gorm:"column:begin_string;primaryKey;size:16"`
	SenderCompID string    `gorm:"column:sender_comp_id;primaryKey;size:64"`
	TargetCompID string    `gorm:"column:target_comp_id;primaryKey;size:64"`
	NextIncoming int       `gorm:"column:next_incoming;not null"`
	NextOutgoing int       `gorm:"column:next_outgoing;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName overrides the GORM default.
func (SessionRow) TableName() string { return "fix_sessions" }

// MessageRow is one journaled outbound message.
type MessageRow struct {
	BeginString  string    `gorm:"column:begin_string;primaryKey;size:16"`
	SenderCompID string    `gorm:"column:sender_comp_id;primaryKey;size:64"`
	TargetCompID string    `gorm:"column:target_comp_id;primaryKey;size:64"`
	MsgSeqNum    int       `gorm:"column:msg_seq_num;primaryKey"`
	WireBytes    []byte    `gorm:"column:wire_bytes;not null"`
	StoredAt     time.Time `gorm:"column:stored_at;not null"`
}

// TableName overrides the GORM default.
func (MessageRow) TableName() string { return "fix_messages" }

// ArchiveRow is an append-only copy of a message row displaced by a
// post-reset sequence reuse.
type ArchiveRow struct {
	BeginString  string    `gorm:"column:begin_string;primaryKey;size:16"`
	SenderCompID string    `gorm:"column:sender_comp_id;primaryKey;size:64"`
	TargetCompID string    `gorm:"column:target_comp_id;primaryKey;size:64"`
	MsgSeqNum    int       `gorm:"column:msg_seq_num;primaryKey"`
	ArchivedAt   time.Time `gorm:"column:archived_at;primaryKey"`
	WireBytes    []byte    `gorm:"column:wire_bytes;not null"`
	StoredAt     time.Time `gorm:"column:stored_at;not null"`
}

// TableName overrides the GORM default.
func (ArchiveRow) TableName() string { return "fix_messages_archive" }
