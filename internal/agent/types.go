// Package agent connects the turn executor to the external text generator.
package agent

import (
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// GenerateRequest is one text generation call.
type GenerateRequest struct {
	SessionID   string
	Prompt      string
	SubjectHint string
	History     []domain.HistoryEntry
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}
