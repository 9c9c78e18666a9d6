// Package model 包含了应用的数据模型定义。
package model

// Conversation 代表一次单独的问答交互，也是持久化日志中的一条记录。
type Conversation struct {
	ID        int    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    string `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Question  string `gorm:"type:text;not null" json:"question"`
	Answer    string `gorm:"type:text;not null" json:"answer"`
	Timestamp string `gorm:"type:varchar(32)" json:"timestamp"`
}

func (Conversation) TableName() string {
	return "conversations"
}
