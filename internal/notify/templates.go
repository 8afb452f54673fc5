package notify

import (
	"strings"
)

// senderDisplayName is the name shown in the recipient's mail client.
const senderDisplayName = "GranaFlow"

const confirmEmailTemplate = `<html><body>
<h2>Welcome to GranaFlow</h2>
<p>Please confirm your email address by clicking the link below:</p>
<p><a href="{{link}}">Confirm my email</a></p>
<p>If you did not create this account, you can ignore this message.</p>
</body></html>`

const twoFactorTemplate = `<html><body>
<h2>Verification code</h2>
<p>Your two-step verification code is:</p>
<p><strong>{{token}}</strong></p>
<p>This code expires in a few minutes. If you did not try to sign in, change your password immediately.</p>
</body></html>`

const forgetPasswordTemplate = `<html><body>
<h2>Password change requested</h2>
<p>A password change was requested for your account. Click the link below to choose a new password:</p>
<p><a href="{{link}}">Reset my password</a></p>
<p>If you did not request this, you can ignore this message.</p>
</body></html>`

// ConfirmEmailMessage builds the notification for a freshly registered
// account. The link embeds the confirmation token and the account email.
func ConfirmEmailMessage(email, link string) MailMessage {
	return MailMessage{
		DisplayName:     senderDisplayName,
		Body:            strings.ReplaceAll(confirmEmailTemplate, "{{link}}", link),
		Subject:         "Confirm email",
		IsBodyHTML:      true,
		MailPriority:    PriorityHigh,
		MailAddressesTo: []string{email},
	}
}

// TwoFactorMessage builds the notification carrying a 2FA code.
func TwoFactorMessage(email, code string) MailMessage {
	return MailMessage{
		DisplayName:     senderDisplayName,
		Body:            strings.ReplaceAll(twoFactorTemplate, "{{token}}", code),
		Subject:         "Verification code",
		IsBodyHTML:      true,
		MailPriority:    PriorityHigh,
		MailAddressesTo: []string{email},
	}
}

// PasswordResetMessage builds the notification carrying a reset link.
func PasswordResetMessage(email, link string) MailMessage {
	return MailMessage{
		DisplayName:     senderDisplayName,
		Body:            strings.ReplaceAll(forgetPasswordTemplate, "{{link}}", link),
		Subject:         "Request password change",
		IsBodyHTML:      true,
		MailPriority:    PriorityHigh,
		MailAddressesTo: []string{email},
	}
}
