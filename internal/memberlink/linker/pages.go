package linker

import (
	"html/template"
	"net/http"

	internalerrors "github.com/scalingmax/memberlink/internal/errors"
	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/mlsec"
)

var pageTemplates = template.Must(template.New("pages").Parse(`{{define "head"}}<!DOCTYPE html>
<html lang="fr">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}} | Scaling MAX</title>
  <style nonce="{{.Nonce}}">
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: linear-gradient(135deg, #0a0a0a 0%, #1a1a1a 100%); min-height: 100vh; display: flex; align-items: center; justify-content: center; padding: 20px; }
    .card { background: #fafafa; border-radius: 24px; padding: 48px; max-width: 480px; width: 100%; text-align: center; box-shadow: 0 30px 80px rgba(0,0,0,0.5); }
    .badge { display: inline-flex; align-items: center; gap: 8px; color: #fff; padding: 8px 16px; border-radius: 50px; font-size: 0.85rem; font-weight: 600; margin-bottom: 24px; background: #10b981; }
    .badge.error { background: #ef4444; }
    h1 { font-size: 1.8rem; margin-bottom: 16px; color: #0a0a0a; }
    p { color: #555; margin-bottom: 24px; line-height: 1.7; }
    .email { background: #f5f5f5; padding: 12px 20px; border-radius: 8px; font-weight: 600; color: #0a0a0a; margin-bottom: 32px; }
    .btn { display: inline-flex; align-items: center; justify-content: center; gap: 12px; background: #5865F2; color: #fff; padding: 18px 36px; border-radius: 12px; text-decoration: none; font-weight: 600; font-size: 1.1rem; width: 100%; }
    .btn:hover { background: #4752C4; }
    .btn.plain { background: #0a0a0a; width: auto; padding: 16px 32px; font-size: 1rem; }
    .btn.plain:hover { background: #ff4d00; }
    .note { margin-top: 24px; font-size: 0.85rem; color: #999; }
  </style>
</head>
<body>
  <div class="card">{{end}}
{{define "foot"}}  </div>
</body>
</html>
{{end}}
{{define "access"}}{{template "head" .}}
    <div class="badge">✓ Abonnement actif</div>
    <h1>Bienvenue ! 🎉</h1>
    <p>Connecte ton compte Discord pour accéder au serveur privé Scaling MAX.</p>
    {{if .Email}}<div class="email">{{.Email}}</div>{{end}}
    <a href="{{.LinkURL}}" class="btn">Connecter Discord</a>
    <p class="note">Tu seras redirigé vers Discord pour autoriser l'accès.</p>
{{template "foot" .}}{{end}}
{{define "success"}}{{template "head" .}}
    <div class="badge">✓ Compte connecté</div>
    <h1>Bienvenue {{.Username}} !</h1>
    <p>Ton compte Discord est maintenant connecté. Tu as accès au serveur privé Scaling MAX.</p>
    <a href="{{.LinkURL}}" class="btn">Ouvrir Discord</a>
{{template "foot" .}}{{end}}
{{define "error"}}{{template "head" .}}
    <div class="badge error">✕ Erreur</div>
    <h1>{{.Title}}</h1>
    <p>{{.Message}}</p>
    <a href="{{.LinkURL}}" class="btn plain">Retour au site →</a>
{{template "foot" .}}{{end}}`))

type pageData struct {
	Title    string
	Message  string
	Email    string
	Username string
	LinkURL  string
	Nonce    string
}

type errorCopy struct {
	title   string
	message string
}

var errorPages = map[internalerrors.State]errorCopy{
	internalerrors.StateInvalidToken:        {"Accès refusé", "Ce lien est invalide ou expiré. Si tu as un abonnement actif, contacte-nous."},
	internalerrors.StateOAuthDenied:         {"Autorisation refusée", "Tu as refusé l'autorisation Discord. Réessaie si c'était une erreur."},
	internalerrors.StateBadRequest:          {"Paramètres manquants", "Le lien est invalide. Retourne à ton email."},
	internalerrors.StateInvalidState:        {"État invalide", "Le lien est corrompu. Retourne à ton email."},
	internalerrors.StateSubscriptionInvalid: {"Abonnement invalide", "Ton abonnement n'est plus actif. Contacte-nous si c'est une erreur."},
	internalerrors.StateOAuthError:          {"Erreur Discord", "Impossible d'obtenir l'accès. Réessaie."},
	internalerrors.StateUpstreamError:       {"Erreur serveur", "Une erreur est survenue. Réessaie ou contacte-nous."},
}

var missingTokenPage = errorCopy{"Token manquant", "Le lien est invalide. Vérifie ton email."}

func errorPageFor(err error) errorCopy {
	state := internalerrors.StateOf(err)
	if state == internalerrors.StateInvalidToken && internalerrors.HTTPStatus(err) == http.StatusBadRequest {
		return missingTokenPage
	}
	if page, ok := errorPages[state]; ok {
		return page
	}
	return errorPages[internalerrors.StateUpstreamError]
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Nonce = mlsec.NonceFromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Str("page", name).Msg("page render failed")
	}
}
