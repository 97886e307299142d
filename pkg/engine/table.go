package engine

import "github.com/sovereignrag/process/pkg/models"

// Key addresses a transition rule.
type Key struct {
	State models.ProcessState
	Event models.ProcessEvent
}

// Table maps (state, event) to the next state.
type Table map[Key]models.ProcessState

// Next returns the state the event leads to from state.
func (t Table) Next(state models.ProcessState, event models.ProcessEvent) (models.ProcessState, bool) {
	next, ok := t[Key{State: state, Event: event}]

	return next, ok
}

var DefaultTable = Table{
	{models.ProcessStateInitial, models.ProcessEventCreated}:                          models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventCompleted}:                        models.ProcessStateComplete,
	{models.ProcessStatePending, models.ProcessEventFailed}:                           models.ProcessStateFailed,
	{models.ProcessStatePending, models.ProcessEventExpired}:                          models.ProcessStateExpired,
	{models.ProcessStatePending, models.ProcessEventAuthTokenResend}:                  models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventPendingTransactionStatusVerified}: models.ProcessStatePending,
}

var TransactionTable = extend(DefaultTable, Table{
	{models.ProcessStatePending, models.ProcessEventAuthSucceeded}:                 models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventCreditRatingOffersReceived}:    models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventRemotePaymentResult}:           models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventStatusCheckFailed}:             models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventManualReconciliationConfirmed}: models.ProcessStatePending,
	{models.ProcessStatePending, models.ProcessEventRemotePaymentCompleted}:        models.ProcessStateComplete,
	{models.ProcessStatePending, models.ProcessEventReversePendingFunds}:           models.ProcessStateFailed,
	{models.ProcessStatePending, models.ProcessEventReverseTransaction}:            models.ProcessStateFailed,
})

// TableFor returns the rules that govern processes of the given flow.
func TableFor(flow models.Flow) Table {
	if flow == models.FlowTransaction {
		return TransactionTable
	}

	return DefaultTable
}

func extend(base, extra Table) Table {
	table := make(Table, len(base)+len(extra))

	for key, next := range base {
		table[key] = next
	}

	for key, next := range extra {
		table[key] = next
	}

	return table
}
