package engine

import (
	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/session"
)

// Metrics observed by the framer and its sessions
type Metrics interface {
	session.Metrics
	SessionsActive(count int)
	SequenceReset()
	CloseStep(step string)
}

type noopMetrics struct{}

func (noopMetrics) MessageReceived(codec.Kind)        {}
func (noopMetrics) InvalidMessage(codec.RejectReason) {}
func (noopMetrics) BackPressured()                    {}
func (noopMetrics) SessionsActive(int)                {}
func (noopMetrics) SequenceReset()                    {}
func (noopMetrics) CloseStep(string)                  {}
