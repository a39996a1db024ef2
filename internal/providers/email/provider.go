package email

import "context"

// InviteMail carries the fields rendered into the invitation message.
type InviteMail struct {
	To           string
	OrgName      string
	RoleName     string
	InviterEmail string
}

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendMemberInvite(ctx context.Context, mail InviteMail) error
}

// NoOpProvider drops mail on the floor. Used when SMTP is not
// configured, typically in development and tests.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *NoOpProvider) SendMemberInvite(ctx context.Context, mail InviteMail) error {
	return nil
}
