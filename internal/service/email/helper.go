// internal/service/email/helper.go
package email

import (
	"fmt"
	"html"

	"go.uber.org/zap"
)

// Helper builds the product emails and sends them off the request path.
type Helper struct {
	sender  Sender
	logger  *zap.Logger
	baseURL string
}

func NewHelper(sender Sender, logger *zap.Logger, baseURL string) *Helper {
	return &Helper{
		sender:  sender,
		logger:  logger,
		baseURL: baseURL,
	}
}

// ========== Invitations ==========

// InvitationEmail builds the workspace invitation email
func (h *Helper) InvitationEmail(workspaceName, inviterName, role, token string) (string, string) {
	acceptURL := fmt.Sprintf("%s/invitations/accept?token=%s", h.baseURL, token)

	subject := fmt.Sprintf("You're invited to %s on AudioTricks", workspaceName)
	body := fmt.Sprintf(`
		<h2>Join %s</h2>
		<p>%s invited you to collaborate as <strong>%s</strong>.</p>
		<p><a href="%s" class="button">Accept invitation</a></p>
		<p>Or paste this link into your browser:</p>
		<p><a href="%s">%s</a></p>
		<p>The invitation expires in 7 days. Sign in with this email address to accept it.</p>
	`, html.EscapeString(workspaceName), html.EscapeString(inviterName), role, acceptURL, acceptURL, acceptURL)

	return subject, body
}

// SendInvitation sends the invitation asynchronously
func (h *Helper) SendInvitation(to, workspaceName, inviterName, role, token string) {
	subject, body := h.InvitationEmail(workspaceName, inviterName, role, token)
	h.sendAsync(to, subject, body, "invitation")
}

// ========== Welcome ==========

func (h *Helper) WelcomeEmail(fullName string) (string, string) {
	subject := "Welcome to AudioTricks"
	body := fmt.Sprintf(`
		<h2>Welcome, %s!</h2>
		<p>Your account is ready. Upload a recording and we will transcribe, summarise and analyse it for you.</p>
		<p><a href="%s" class="button">Open AudioTricks</a></p>
	`, html.EscapeString(fullName), h.baseURL)

	return subject, body
}

func (h *Helper) SendWelcome(to, fullName string) {
	subject, body := h.WelcomeEmail(fullName)
	h.sendAsync(to, subject, body, "welcome")
}

func (h *Helper) sendAsync(to, subject, body, kind string) {
	go func() {
		if err := h.sender.Send(to, subject, body); err != nil {
			h.logger.Error("failed to send email",
				zap.String("kind", kind),
				zap.String("email", to),
				zap.Error(err),
			)
			return
		}
		h.logger.Info("email sent",
			zap.String("kind", kind),
			zap.String("email", to),
		)
	}()
}
