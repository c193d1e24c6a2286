package application

import "voicestream/internal/domain"

// StateObserver is the UI side of the controller. OnStatus must not block.
// It is called outside the controller's status lock, so it may read
// Controller.Status, but it must not call StartAudio or StopAudio.
type StateObserver interface {
	OnStatus(s domain.Status)
}

type NoopObserver struct{}

func (n *NoopObserver) OnStatus(_ domain.Status) {}

// ObserverFunc adapts a function to StateObserver.
type ObserverFunc func(domain.Status)

func (f ObserverFunc) OnStatus(s domain.Status) { f(s) }
