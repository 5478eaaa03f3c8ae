// Package notifications composes and delivers subscription lifecycle emails
// and guards against sending the same notification twice on one day.
package notifications

import (
	"bytes"
	"fmt"
	"text/template"

	"subwatch/internal/types"
)

// Message is a composed plain-text email.
type Message struct {
	Subject string
	Body    string
}

type bodyData struct {
	Name            string
	SubscriptionID  string
	DaysUntilExpiry int
}

var bodyTemplates = map[types.NotificationType]*template.Template{
	types.NotificationExpiryWarning: template.Must(template.New("expiry_warning").Parse(
		`Hi {{.Name}},

Your subscription {{.SubscriptionID}} expires in {{.DaysUntilExpiry}} {{if eq .DaysUntilExpiry 1}}day{{else}}days{{end}}.
Renew before then to keep uninterrupted access.
`)),
	types.NotificationExpired: template.Must(template.New("expired").Parse(
		`Hi {{.Name}},

Your subscription {{.SubscriptionID}} has expired.
You can renew at any time to restore access.
`)),
	types.NotificationCancelled: template.Must(template.New("cancelled").Parse(
		`Hi {{.Name}},

Your subscription {{.SubscriptionID}} has been cancelled.
`)),
}

// Subject returns the subject line for the intent.
func Subject(intent types.NotificationIntent) (string, error) {
	switch intent.Type {
	case types.NotificationExpiryWarning:
		if intent.DaysUntilExpiry == 1 {
			return "Your subscription expires in 1 day", nil
		}
		return fmt.Sprintf("Your subscription expires in %d days", intent.DaysUntilExpiry), nil
	case types.NotificationExpired:
		return "Your subscription has expired", nil
	case types.NotificationCancelled:
		return "Your subscription has been cancelled", nil
	default:
		return "", types.NewAppError(types.ErrCodeConfiguration, fmt.Sprintf("unknown notification type %q", intent.Type), nil)
	}
}

// Compose renders the message for intent addressed to profile. The output
// depends only on its inputs.
func Compose(intent types.NotificationIntent, profile *types.Profile) (Message, error) {
	subject, err := Subject(intent)
	if err != nil {
		return Message{}, err
	}

	name := profile.DisplayName
	if name == "" {
		name = "there"
	}

	var buf bytes.Buffer
	err = bodyTemplates[intent.Type].Execute(&buf, bodyData{
		Name:            name,
		SubscriptionID:  intent.SubscriptionID,
		DaysUntilExpiry: intent.DaysUntilExpiry,
	})
	if err != nil {
		return Message{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render notification body", err)
	}

	return Message{Subject: subject, Body: buf.String()}, nil
}
