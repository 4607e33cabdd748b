package timeline

// Kind selects the template of a system or banner message. The values are wire-stable.
type Kind string

const (
	KindFinishConversationBanner   Kind = "finish-conversation-banner"
	KindFinishConversationMessage  Kind = "finish-conversation-message"
	KindEmptyResponse              Kind = "empty-response"
	KindRequestError               Kind = "request-error"
	KindRedirectMessage            Kind = "redirect-message"
	KindCreateServiceAccount       Kind = "create-service-account"
	KindCreateServiceAccountFailed Kind = "create-service-account-failed"
	KindToggleOrg2FA               Kind = "toggle-org-2fa"
	KindToggleOrg2FAFailed         Kind = "toggle-org-2fa-failed"
	KindMessageTooLong             Kind = "message-too-long"
)

var knownKinds = map[Kind]struct{}{
	KindFinishConversationBanner:   {},
	KindFinishConversationMessage:  {},
	KindEmptyResponse:              {},
	KindRequestError:               {},
	KindRedirectMessage:            {},
	KindCreateServiceAccount:       {},
	KindCreateServiceAccountFailed: {},
	KindToggleOrg2FA:               {},
	KindToggleOrg2FAFailed:         {},
	KindMessageTooLong:             {},
}

// Known reports whether k is one of the wire-stable kinds.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

func NewSystem(kind Kind, args ...string) SystemMessage {
	return SystemMessage{Base: NewBase(), Kind: kind, Args: args}
}

func NewBanner(kind Kind, args ...string) BannerMessage {
	return BannerMessage{Base: NewBase(), Kind: kind, Args: args}
}
