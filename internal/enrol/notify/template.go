package notify

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// Template is a localized subject/body pair for the default welcome message.
type Template struct {
	Subject string
	Body    string
}

var supportedTags = []language.Tag{
	language.English,
	language.MustParse("pt-BR"),
}

var tagMatcher = language.NewMatcher(supportedTags)

var defaultTemplates = map[string]Template{
	language.English.String(): {
		Subject: "Welcome to {coursename}",
		Body:    "Hi {fullname},\n\nYou have been enrolled in {coursename} because you completed {completedname}.",
	},
	"pt-BR": {
		Subject: "Bem-vindo a {coursename}",
		Body:    "Olá {fullname},\n\nVocê foi inscrito em {coursename} porque concluiu {completedname}.",
	},
}

// defaultTemplate returns the welcome template best matching a user
// locale, falling back to English for empty or unparseable locales.
func defaultTemplate(locale string) Template {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			_, index, _ := tagMatcher.Match(parsed)
			tag = supportedTags[index]
		}
	}
	if tmpl, ok := defaultTemplates[tag.String()]; ok {
		return tmpl
	}
	return defaultTemplates[language.English.String()]
}

var placeholderPattern = regexp.MustCompile(`\{[^{}]+\}`)

// render substitutes the bounded placeholder vocabulary into a template.
// Tokens outside the vocabulary are stripped so delivered messages never
// carry raw placeholder syntax.
func render(text string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := strings.Trim(token, "{}")
		if value, ok := vars[name]; ok {
			return value
		}
		return ""
	})
}
