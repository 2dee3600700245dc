// Package i18n renders user-facing ledger messages in the caller's language.
package i18n

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Clark-Hu/stars/internal/ledger"
)

// Catalog keys double as the English text.
const (
	KeyInvalidActor  = "Unable to identify the rating actor. Either an actor reference or a device ID must be provided."
	KeyMinRate       = "Rate must be greater than or equal to %d, %d given"
	KeyMaxRate       = "Rate must be less than or equal to %d, %d given"
	KeyNotFound      = "Rating not found"
	KeyInvalidBody   = "Invalid request body"
	KeyInvalidTarget = "Invalid target reference"
	KeyUnauthorized  = "Unauthorized"
	KeyInternal      = "Internal server error"
)

// Supported lists the languages with a catalog, English first as the fallback.
var Supported = []language.Tag{language.English, language.Persian}

var matcher = language.NewMatcher(Supported)

var persian = map[string]string{
	KeyInvalidActor:  "امکان ثبت امتیاز وجود ندارد، چون مشخص نیست چه کسی آن را داده است.",
	KeyMinRate:       "امتیاز باید بیشتر یا مساوی %d باشد، در حالی که %d داده شده است",
	KeyMaxRate:       "امتیاز باید کمتر یا مساوی %d باشد، در حالی که %d داده شده است",
	KeyNotFound:      "امتیاز پیدا نشد",
	KeyInvalidBody:   "بدنه درخواست نامعتبر است",
	KeyInvalidTarget: "شناسه هدف نامعتبر است",
	KeyUnauthorized:  "دسترسی غیرمجاز",
	KeyInternal:      "خطای داخلی سرور",
}

var eventTitles = map[ledger.EventName]string{
	ledger.EventCreated:  "Rating Added",
	ledger.EventUpdating: "Rating Updating",
	ledger.EventUpdated:  "Rating Updated",
	ledger.EventRemoving: "Rating Removing",
	ledger.EventRemoved:  "Rating Removed",
}

func init() {
	for key, text := range persian {
		_ = message.SetString(language.Persian, key, text)
	}
}

// Match picks the best supported language for an Accept-Language header.
func Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(strings.TrimSpace(acceptLanguage))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

// Printer returns a printer for tag.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// T translates key, formatting args the way fmt.Sprintf would.
func T(tag language.Tag, key string, args ...interface{}) string {
	return Printer(tag).Sprintf(key, args...)
}

// Error renders err for a user. Errors without a catalog entry are returned
// as their own text.
func Error(tag language.Tag, err error) string {
	var (
		minErr   ledger.MinRatingError
		maxErr   ledger.MaxRatingError
		actorErr ledger.InvalidActorError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &minErr):
		return T(tag, KeyMinRate, minErr.Min, minErr.Given)
	case errors.As(err, &maxErr):
		return T(tag, KeyMaxRate, maxErr.Max, maxErr.Given)
	case errors.As(err, &actorErr):
		return T(tag, KeyInvalidActor)
	case errors.Is(err, ledger.ErrNotFound):
		return T(tag, KeyNotFound)
	default:
		return err.Error()
	}
}

// EventTitle returns a short human title for an event name.
func EventTitle(name ledger.EventName) string {
	if title, ok := eventTitles[name]; ok {
		return title
	}
	return string(name)
}
