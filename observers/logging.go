// Package observers provides ready-made observers for monitoring state
// machine execution: structured logging and Prometheus metrics.
package observers

import (
	"github.com/sirupsen/logrus"

	"github.com/stratahq/strata"
)

// Logging reports every observable machine event through a structured
// logger. Transitions and lifecycle log at info, rejections and
// rollbacks at warn, errors at error, the rest at debug.
type Logging[S comparable, E comparable] struct {
	logger logrus.FieldLogger
}

// NewLogging creates a logging observer writing to the given logger.
func NewLogging[S comparable, E comparable](logger logrus.FieldLogger) *Logging[S, E] {
	return &Logging[S, E]{logger: logger}
}

// OnTransition logs a settled transition
func (o *Logging[S, E]) OnTransition(from S, to S, event E, args strata.Args) {
	o.logger.WithFields(logrus.Fields{
		"from":  from,
		"to":    to,
		"event": event,
		"args":  args.Len(),
	}).Info("transition")
}

// OnStateEnter logs a state entry
func (o *Logging[S, E]) OnStateEnter(state S, args strata.Args) {
	o.logger.WithField("state", state).Debug("state entered")
}

// OnStateExit logs a state exit
func (o *Logging[S, E]) OnStateExit(state S) {
	o.logger.WithField("state", state).Debug("state exited")
}

// OnGuardEvaluation logs a guard decision
func (o *Logging[S, E]) OnGuardEvaluation(from S, to S, event E, result bool) {
	o.logger.WithFields(logrus.Fields{
		"from":     from,
		"to":       to,
		"event":    event,
		"accepted": result,
	}).Debug("guard evaluated")
}

// OnEventRejected logs a failed event
func (o *Logging[S, E]) OnEventRejected(event E, reason string) {
	o.logger.WithFields(logrus.Fields{
		"event":  event,
		"reason": reason,
	}).Warn("event rejected")
}

// OnRollback logs a refused entry
func (o *Logging[S, E]) OnRollback(state S) {
	o.logger.WithField("state", state).Warn("entry refused, rolled back")
}

// OnError logs a processing error
func (o *Logging[S, E]) OnError(err error) {
	o.logger.WithError(err).Error("state machine error")
}

// OnMachineStarted logs the dispatcher binding
func (o *Logging[S, E]) OnMachineStarted() {
	o.logger.Info("state machine started")
}

// OnMachineStopped logs the release
func (o *Logging[S, E]) OnMachineStopped() {
	o.logger.Info("state machine stopped")
}
