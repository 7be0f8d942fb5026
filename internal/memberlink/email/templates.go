package email

import (
	"bytes"
	"fmt"
	"html/template"
)

const (
	WelcomeSubject      = "🎉 Bienvenue dans Scaling MAX !"
	CancellationSubject = "Ton accès Scaling MAX a été désactivé"
)

const layoutOpen = `<div style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 40px 20px;">`

var welcomeTemplate = template.Must(template.New("welcome").Parse(layoutOpen + `
<h1 style="color: #0a0a0a; font-size: 28px; margin-bottom: 24px;">Bienvenue dans Scaling MAX ! 🚀</h1>
<p style="color: #555; font-size: 16px; line-height: 1.7;">
Ton paiement a bien été reçu. Tu as maintenant accès à :
</p>
<ul style="color: #555; font-size: 16px; line-height: 2;">
<li>📚 Le Notion Scaling MAX complet</li>
<li>💬 Le Discord privé</li>
<li>🎯 Toutes mes méthodes</li>
</ul>
<h2 style="color: #0a0a0a; font-size: 20px; margin-top: 32px;">Étape 1 : Rejoins le Discord</h2>
<p style="color: #555; font-size: 16px; line-height: 1.7;">
Clique sur le bouton ci-dessous pour lier ton compte Discord et accéder au serveur privé :
</p>
<div style="text-align: center; margin: 32px 0;">
<a href="{{.AccessURL}}" style="display: inline-block; background: #ff4d00; color: white; padding: 16px 32px; text-decoration: none; border-radius: 8px; font-weight: 600; font-size: 16px;">
Accéder au Discord →
</a>
</div>
<p style="color: #999; font-size: 14px; margin-top: 40px;">
Ce lien est unique et personnel. Ne le partage pas.<br>
Si tu as la moindre question, réponds directement à cet email.
</p>
<p style="color: #0a0a0a; font-size: 16px; margin-top: 32px;">
À très vite sur le Discord !<br>
<strong>{{.Signature}}</strong>
</p>
</div>`))

var cancellationTemplate = template.Must(template.New("cancellation").Parse(layoutOpen + `
<h1 style="color: #0a0a0a; font-size: 28px; margin-bottom: 24px;">Ton accès a été désactivé</h1>
<p style="color: #555; font-size: 16px; line-height: 1.7;">
Ton abonnement Scaling MAX a été annulé ou le paiement a échoué.
</p>
<p style="color: #555; font-size: 16px; line-height: 1.7;">
Tu n'as plus accès au Discord privé ni aux contenus réservés aux membres.
</p>
<p style="color: #555; font-size: 16px; line-height: 1.7;">
Si c'est une erreur ou si tu veux te réabonner, tu peux le faire ici :
</p>
<div style="text-align: center; margin: 32px 0;">
<a href="{{.ResubscribeURL}}" style="display: inline-block; background: #0a0a0a; color: white; padding: 16px 32px; text-decoration: none; border-radius: 8px; font-weight: 600; font-size: 16px;">
Se réabonner →
</a>
</div>
<p style="color: #999; font-size: 14px; margin-top: 40px;">
Si tu as des questions, réponds à cet email.
</p>
<p style="color: #0a0a0a; font-size: 16px; margin-top: 32px;">
{{.Signature}}
</p>
</div>`))

// WelcomeData holds template data for the welcome email.
type WelcomeData struct {
	AccessURL string
	Signature string
}

// CancellationData holds template data for the access revoked email.
type CancellationData struct {
	ResubscribeURL string
	Signature      string
}

// RenderWelcomeEmail renders the welcome email carrying the access link.
func RenderWelcomeEmail(data WelcomeData) (html, text string, err error) {
	data.Signature = signatureOrDefault(data.Signature)
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render welcome template: %w", err)
	}

	textBody := fmt.Sprintf("Bienvenue dans Scaling MAX !\n\nTon paiement a bien été reçu.\n\nRejoins le Discord privé en liant ton compte ici : %s\n\nCe lien est unique et personnel. Ne le partage pas.\n\n%s", data.AccessURL, data.Signature)

	return buf.String(), textBody, nil
}

// RenderCancellationEmail renders the access revoked email.
func RenderCancellationEmail(data CancellationData) (html, text string, err error) {
	data.Signature = signatureOrDefault(data.Signature)
	var buf bytes.Buffer
	if err := cancellationTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render cancellation template: %w", err)
	}

	textBody := fmt.Sprintf("Ton accès a été désactivé\n\nTon abonnement Scaling MAX a été annulé ou le paiement a échoué. Tu n'as plus accès au Discord privé.\n\nPour te réabonner : %s\n\n%s", data.ResubscribeURL, data.Signature)

	return buf.String(), textBody, nil
}

func signatureOrDefault(s string) string {
	if s == "" {
		return "Max"
	}
	return s
}
