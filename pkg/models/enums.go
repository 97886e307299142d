package models

import "time"

type ProcessState string

const (
	ProcessStateInitial  ProcessState = "INITIAL"
	ProcessStatePending  ProcessState = "PENDING"
	ProcessStateComplete ProcessState = "COMPLETE"
	ProcessStateFailed   ProcessState = "FAILED"
	ProcessStateExpired  ProcessState = "EXPIRED"
)

// ProcessStates lists every state a process or request can be in.
var ProcessStates = []ProcessState{
	ProcessStateInitial,
	ProcessStatePending,
	ProcessStateComplete,
	ProcessStateFailed,
	ProcessStateExpired,
}

// Terminal reports whether no transition may leave the state.
func (s ProcessState) Terminal() bool {
	switch s {
	case ProcessStateComplete, ProcessStateFailed, ProcessStateExpired:
		return true
	default:
		return false
	}
}

func (s ProcessState) Valid() bool {
	for _, state := range ProcessStates {
		if s == state {
			return true
		}
	}

	return false
}

// Flow selects the transition table a process type is driven by.
type Flow string

const (
	FlowDefault     Flow = "default"
	FlowTransaction Flow = "transaction"
)

type ProcessType string

const (
	ProcessTypeKnowledgeBaseCreation  ProcessType = "KNOWLEDGE_BASE_CREATION"
	ProcessTypeWebhookCreation        ProcessType = "WEBHOOK_CREATION"
	ProcessTypeWebhookUpdate          ProcessType = "WEBHOOK_UPDATE"
	ProcessTypeWebhookDeletion        ProcessType = "WEBHOOK_DELETION"
	ProcessTypeMerchantUserInvitation ProcessType = "MERCHANT_USER_INVITATION"
	ProcessTypePasswordReset          ProcessType = "PASSWORD_RESET"
	ProcessTypeTwoFactorAuth          ProcessType = "TWO_FACTOR_AUTH"
	ProcessTypeEmailVerification      ProcessType = "EMAIL_VERIFICATION"
	ProcessTypeUserRegistration       ProcessType = "USER_REGISTRATION"
	ProcessTypeAvatarGeneration       ProcessType = "AVATAR_GENERATION"
	ProcessTypeTransaction            ProcessType = "TRANSACTION"
)

type processTypeInfo struct {
	description string
	duration    time.Duration
	flow        Flow
}

var processTypes = map[ProcessType]processTypeInfo{
	ProcessTypeKnowledgeBaseCreation:  {"Knowledge base creation", 24 * time.Hour, FlowDefault},
	ProcessTypeWebhookCreation:        {"Webhook creation", 5 * time.Minute, FlowDefault},
	ProcessTypeWebhookUpdate:          {"Webhook update", 5 * time.Minute, FlowDefault},
	ProcessTypeWebhookDeletion:        {"Webhook deletion", 5 * time.Minute, FlowDefault},
	ProcessTypeMerchantUserInvitation: {"Merchant user invitation", 7 * 24 * time.Hour, FlowDefault},
	ProcessTypePasswordReset:          {"Password reset", 20 * time.Minute, FlowDefault},
	ProcessTypeTwoFactorAuth:          {"Two factor authentication", 5 * time.Minute, FlowDefault},
	ProcessTypeEmailVerification:      {"Email verification", 24 * time.Hour, FlowDefault},
	ProcessTypeUserRegistration:       {"User registration", 24 * time.Hour, FlowDefault},
	ProcessTypeAvatarGeneration:       {"Avatar generation", 30 * time.Minute, FlowDefault},
	ProcessTypeTransaction:            {"Transaction", time.Hour, FlowTransaction},
}

func (t ProcessType) Valid() bool {
	_, ok := processTypes[t]

	return ok
}

func (t ProcessType) Description() string {
	return processTypes[t].description
}

// Duration is the default lifetime of a process of this type.
func (t ProcessType) Duration() time.Duration {
	return processTypes[t].duration
}

func (t ProcessType) Flow() Flow {
	if info, ok := processTypes[t]; ok {
		return info.flow
	}

	return FlowDefault
}

type ProcessEvent string

const (
	ProcessEventCreated                          ProcessEvent = "PROCESS_CREATED"
	ProcessEventCompleted                        ProcessEvent = "PROCESS_COMPLETED"
	ProcessEventFailed                           ProcessEvent = "PROCESS_FAILED"
	ProcessEventExpired                          ProcessEvent = "PROCESS_EXPIRED"
	ProcessEventAuthTokenResend                  ProcessEvent = "AUTH_TOKEN_RESEND"
	ProcessEventAuthSucceeded                    ProcessEvent = "AUTH_SUCCEEDED"
	ProcessEventRemotePaymentCompleted           ProcessEvent = "REMOTE_PAYMENT_COMPLETED"
	ProcessEventRemotePaymentResult              ProcessEvent = "REMOTE_PAYMENT_RESULT"
	ProcessEventReversePendingFunds              ProcessEvent = "REVERSE_PENDING_FUNDS"
	ProcessEventReverseTransaction               ProcessEvent = "REVERSE_TRANSACTION"
	ProcessEventPendingTransactionStatusVerified ProcessEvent = "PENDING_TRANSACTION_STATUS_VERIFIED"
	ProcessEventCreditRatingOffersReceived       ProcessEvent = "CREDIT_RATING_OFFERS_RECEIVED"
	ProcessEventStatusCheckFailed                ProcessEvent = "STATUS_CHECK_FAILED"
	ProcessEventManualReconciliationConfirmed    ProcessEvent = "MANUAL_RECONCILIATION_CONFIRMED"
)

var processEvents = []ProcessEvent{
	ProcessEventCreated,
	ProcessEventCompleted,
	ProcessEventFailed,
	ProcessEventExpired,
	ProcessEventAuthTokenResend,
	ProcessEventAuthSucceeded,
	ProcessEventRemotePaymentCompleted,
	ProcessEventRemotePaymentResult,
	ProcessEventReversePendingFunds,
	ProcessEventReverseTransaction,
	ProcessEventPendingTransactionStatusVerified,
	ProcessEventCreditRatingOffersReceived,
	ProcessEventStatusCheckFailed,
	ProcessEventManualReconciliationConfirmed,
}

func (e ProcessEvent) Valid() bool {
	for _, event := range processEvents {
		if e == event {
			return true
		}
	}

	return false
}

type RequestType string

const (
	RequestTypeCreateNewProcess          RequestType = "CREATE_NEW_PROCESS"
	RequestTypeCompleteProcess           RequestType = "COMPLETE_PROCESS"
	RequestTypeFailProcess               RequestType = "FAIL_PROCESS"
	RequestTypeExpireProcess             RequestType = "EXPIRE_PROCESS"
	RequestTypeResendAuthentication      RequestType = "RESEND_AUTHENTICATION"
	RequestTypeCustomerInformationUpdate RequestType = "CUSTOMER_INFORMATION_UPDATE"
	RequestTypeStatusCheckRetry          RequestType = "STATUS_CHECK_RETRY"
	RequestTypeManualReconciliation      RequestType = "MANUAL_RECONCILIATION"
	RequestTypeAvatarPrompt              RequestType = "AVATAR_PROMPT"
	RequestTypeAvatarRefinement          RequestType = "AVATAR_REFINEMENT"
)

var requestTypes = []RequestType{
	RequestTypeCreateNewProcess,
	RequestTypeCompleteProcess,
	RequestTypeFailProcess,
	RequestTypeExpireProcess,
	RequestTypeResendAuthentication,
	RequestTypeCustomerInformationUpdate,
	RequestTypeStatusCheckRetry,
	RequestTypeManualReconciliation,
	RequestTypeAvatarPrompt,
	RequestTypeAvatarRefinement,
}

func (t RequestType) Valid() bool {
	for _, requestType := range requestTypes {
		if t == requestType {
			return true
		}
	}

	return false
}

// DataName tags a value in a request's data bag.
type DataName string

const (
	DataMerchantID              DataName = "MERCHANT_ID"
	DataUserIdentifier          DataName = "USER_IDENTIFIER"
	DataAuthenticationReference DataName = "AUTHENTICATION_REFERENCE"
	DataDeviceFingerprint       DataName = "DEVICE_FINGERPRINT"
	DataUserEmail               DataName = "USER_EMAIL"
	DataOrganizationID          DataName = "ORGANIZATION_ID"
	DataVerificationToken       DataName = "VERIFICATION_TOKEN"
	DataAvatarPrompt            DataName = "AVATAR_PROMPT"
	DataAvatarRefinedPrompt     DataName = "AVATAR_REFINED_PROMPT"
	DataAvatarImageKey          DataName = "AVATAR_IMAGE_KEY"
	DataAvatarPreviousImageKey  DataName = "AVATAR_PREVIOUS_IMAGE_KEY"
	DataKnowledgeBaseID         DataName = "KNOWLEDGE_BASE_ID"
	DataKnowledgeBaseName       DataName = "KNOWLEDGE_BASE_NAME"
)

var dataNames = []DataName{
	DataMerchantID,
	DataUserIdentifier,
	DataAuthenticationReference,
	DataDeviceFingerprint,
	DataUserEmail,
	DataOrganizationID,
	DataVerificationToken,
	DataAvatarPrompt,
	DataAvatarRefinedPrompt,
	DataAvatarImageKey,
	DataAvatarPreviousImageKey,
	DataKnowledgeBaseID,
	DataKnowledgeBaseName,
}

func (n DataName) Valid() bool {
	for _, name := range dataNames {
		if n == name {
			return true
		}
	}

	return false
}

type StakeholderType string

const (
	StakeholderActorUser StakeholderType = "ACTOR_USER"
	StakeholderForUser   StakeholderType = "FOR_USER"
)

func (t StakeholderType) Valid() bool {
	return t == StakeholderActorUser || t == StakeholderForUser
}

// Channel records where a process or request originated. It carries no semantics.
type Channel string

const (
	ChannelWeb    Channel = "WEB"
	ChannelMobile Channel = "MOBILE"
	ChannelAPI    Channel = "API"
	ChannelSystem Channel = "SYSTEM"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelMobile, ChannelAPI, ChannelSystem:
		return true
	default:
		return false
	}
}
