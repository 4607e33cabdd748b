package commands

import "context"

// User is the identity the host reports for the signed-in user.
type User struct {
	ID       string
	Username string
	OrgID    string
}

// Host is implemented by the embedding application.
type Host interface {
	// OpenURL opens url in a new browsing context with no opener link back to the widget.
	OpenURL(url string) error
	StartTour(name string) error
	ToggleFeedbackModal(open bool)
	GetAuthToken(ctx context.Context) (string, error)
	GetCurrentUser(ctx context.Context) (User, error)
}

// NopHost ignores navigation requests and reports no identity.
type NopHost struct{}

func (NopHost) OpenURL(string) error     { return nil }
func (NopHost) StartTour(string) error   { return nil }
func (NopHost) ToggleFeedbackModal(bool) {}
func (NopHost) GetAuthToken(context.Context) (string, error) {
	return "", ErrMissingAuthToken
}
func (NopHost) GetCurrentUser(context.Context) (User, error) { return User{}, nil }
