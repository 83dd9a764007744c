// Package i18n holds the user-facing sign-in messages shown when the library does not
// supply its own problem document.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a message.
type Key string

// Message keys.
const (
	SignInFailedTitle      Key = "signin.failed.title"
	SignInFailedMessage    Key = "signin.failed.message"
	InvalidCredentials     Key = "signin.invalid_credentials"
	LibraryUnreachable     Key = "signin.unreachable"
	ActivationFailed       Key = "signin.drm_activation_failed"
	RedirectMalformed      Key = "signin.redirect_malformed"
	SessionExpired         Key = "signin.session_expired"
	SignInAlreadyInProcess Key = "signin.in_progress"
)

var supported = []language.Tag{language.English, language.Spanish, language.French}

var messages = map[language.Tag]map[Key]string{
	language.English: {
		SignInFailedTitle:      "Sign-in failed",
		SignInFailedMessage:    "We couldn't sign you in to %s. Please try again.",
		InvalidCredentials:     "Your library card number or PIN was not accepted.",
		LibraryUnreachable:     "%s could not be reached. Check your connection and try again.",
		ActivationFailed:       "This device could not be activated for protected books.",
		RedirectMalformed:      "The library returned an unexpected sign-in response.",
		SessionExpired:         "Your session with %s expired. Please sign in again.",
		SignInAlreadyInProcess: "A sign-in is already in progress.",
	},
	language.Spanish: {
		SignInFailedTitle:      "Error al iniciar sesión",
		SignInFailedMessage:    "No pudimos iniciar tu sesión en %s. Inténtalo de nuevo.",
		InvalidCredentials:     "No se aceptó tu número de tarjeta o PIN.",
		LibraryUnreachable:     "No se pudo contactar con %s. Revisa tu conexión e inténtalo de nuevo.",
		ActivationFailed:       "No se pudo activar este dispositivo para libros protegidos.",
		RedirectMalformed:      "La biblioteca devolvió una respuesta de inicio de sesión inesperada.",
		SessionExpired:         "Tu sesión en %s caducó. Vuelve a iniciar sesión.",
		SignInAlreadyInProcess: "Ya hay un inicio de sesión en curso.",
	},
	language.French: {
		SignInFailedTitle:      "Échec de la connexion",
		SignInFailedMessage:    "Impossible de vous connecter à %s. Veuillez réessayer.",
		InvalidCredentials:     "Votre numéro de carte ou votre code PIN n'a pas été accepté.",
		LibraryUnreachable:     "%s est injoignable. Vérifiez votre connexion et réessayez.",
		ActivationFailed:       "Cet appareil n'a pas pu être activé pour les livres protégés.",
		RedirectMalformed:      "La bibliothèque a renvoyé une réponse de connexion inattendue.",
		SessionExpired:         "Votre session avec %s a expiré. Veuillez vous reconnecter.",
		SignInAlreadyInProcess: "Une connexion est déjà en cours.",
	},
}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(supported)
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range messages {
		for key, msg := range msgs {
			if err := b.SetString(tag, string(key), msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Printer formats messages in one language.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// New returns a printer for the best supported match of lang (a BCP 47 tag such as
// "es-MX"). Unknown or empty input falls back to English.
func New(lang string) *Printer {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, idx, _ := matcher.Match(parsed)
			tag = supported[idx]
		}
	}
	return &Printer{tag: tag, p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Language returns the tag messages are printed in.
func (p *Printer) Language() language.Tag { return p.tag }

// Sprintf formats the message for key.
func (p *Printer) Sprintf(key Key, args ...any) string {
	return p.p.Sprintf(string(key), args...)
}
