package models

import (
	"time"
)

type ServiceStatus struct {
	ServiceName   string    `gorm:"primaryKey;column:service_name" bson:"_id"`
	Status        string    `gorm:"column:status" bson:"status"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat" bson:"last_heartbeat"`
	Details       string    `gorm:"column:details" bson:"details"`
}

func (ServiceStatus) TableName() string {
	return "service_status"
}

// APIHealthStat aggregates chat-platform call outcomes per operation.
type APIHealthStat struct {
	ServiceName        string    `gorm:"primaryKey;column:service_name" bson:"_id"`
	TotalRequests      uint64    `gorm:"column:total_requests" bson:"total_requests"`
	SuccessfulRequests uint64    `gorm:"column:successful_requests" bson:"successful_requests"`
	UpdatedAt          time.Time `gorm:"column:updated_at" bson:"updated_at"`
}

func (APIHealthStat) TableName() string {
	return "api_health_stats"
}
