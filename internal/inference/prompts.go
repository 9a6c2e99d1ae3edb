package inference

import (
	"fmt"
	"strings"
)

const recognitionSystemPrompt = `Du identifizierst Brettspiele anhand von Fotos.
Antworte ausschließlich mit gültigem JSON ohne Markdown.
Bist du unsicher, liefere mehrere Kandidaten mit niedrigerer Confidence.
Erfinde keine Editionen oder Verlage, die nicht im Bild erkennbar sind.`

const recognitionUserPrompt = `Analysiere das Foto. Erkenne den Spieltitel und, falls möglich, Edition und Sprache.
Extrahiere sichtbaren Text (Titel, Verlag, Untertitel) und visuelle Hinweise als Evidence.

Antworte exakt in diesem Format:
{
  "best": {"title": "string", "edition": "string oder null", "languageGuess": "DE|EN|FR|ES|IT|NL|OTHER oder null", "confidence": 0},
  "alternatives": [{"title": "string", "edition": "string oder null", "confidence": 0}],
  "evidence": {"visibleText": ["string"], "visualCues": ["string"]},
  "needsConfirmation": true
}

Regeln:
- confidence ist eine ganze Zahl zwischen 0 und 100
- alternatives ist nach confidence absteigend sortiert
- Kein Text vor oder nach dem JSON`

const normalizationSystemPrompt = `Du normalisierst Brettspiel-Titel für die Datenhaltung.
Keine erfundenen Zusätze. Antworte ausschließlich mit gültigem JSON ohne Markdown.`

const pricingSystemPrompt = `Du bewertest Preise für gebrauchte Brettspiele in Deutschland.
Nutze ausschließlich die übergebenen Preisbeobachtungen und den Zustand.
Alle Preise in EUR. Antworte ausschließlich mit gültigem JSON ohne Markdown.`

const listingSystemPrompt = `Du schreibst Kleinanzeigen-Texte auf Deutsch.
Klar, freundlich, ehrlich, keine unseriösen Versprechen.
Nutze kurze Absätze und Hinweise zu Zustand, Umfang, Abholung, Versand und PayPal.
Antworte ausschließlich mit gültigem JSON ohne Markdown.`

func yesNo(b bool) string {
	if b {
		return "Ja"
	}
	return "Nein"
}

func normalizationPrompt(req NormalizeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Normalisiere den folgenden Brettspiel-Titel.\nEingabe: %q\n", req.UserInput)
	if req.OriginalSuggestion != "" {
		fmt.Fprintf(&b, "Ursprünglicher Vorschlag: %q\n", req.OriginalSuggestion)
	}
	b.WriteString(`
Antworte exakt in diesem Format:
{"normalizedTitle": "string", "keywords": ["string"], "editionHints": "string oder null"}`)
	return b.String()
}

func pricingPrompt(req PricingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Spiel: %s\n", req.GameTitle)
	if req.Edition != "" {
		fmt.Fprintf(&b, "Edition: %s\n", req.Edition)
	}
	fmt.Fprintf(&b, "Zustand: %s\n", req.Condition.Label())
	fmt.Fprintf(&b, "Vollständig: %s\n\nPreisbeobachtungen:\n", yesNo(req.IsComplete))
	for _, s := range req.Samples {
		fmt.Fprintf(&b, "- %s: %.2f EUR", s.Source, s.Price)
		if s.ConditionHint != "" {
			fmt.Fprintf(&b, " (%s)", s.ConditionHint)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Antworte exakt in diesem Format:
{"recommendedPrice": 0, "quickSalePrice": 0, "negotiationAnchor": 0, "rangeLow": 0, "rangeHigh": 0, "reasoningBullets": ["string"], "confidence": 0}

Regeln:
- quickSalePrice ist der Preis für einen sofortigen Verkauf
- negotiationAnchor ist der Startpreis für Verhandlungen
- confidence ist eine ganze Zahl zwischen 0 und 100`)
	return b.String()
}

func listingPrompt(req ListingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Spiel: %s", req.GameTitle)
	if req.Edition != "" {
		fmt.Fprintf(&b, " (%s)", req.Edition)
	}
	fmt.Fprintf(&b, "\nZustand: %s\n", req.Condition.Label())
	if req.IsComplete {
		b.WriteString("Vollständig: Ja\n")
	} else {
		b.WriteString("Vollständig: Nein/Unsicher\n")
	}
	fmt.Fprintf(&b, "Sprache: %s\n", req.Language.Label())
	if req.PickupLocation != "" {
		fmt.Fprintf(&b, "Abholung: %s\n", req.PickupLocation)
	} else {
		b.WriteString("Nur Versand\n")
	}
	fmt.Fprintf(&b, "Versand möglich: %s\n", yesNo(req.ShippingAvailable))
	fmt.Fprintf(&b, "PayPal: %s\n", yesNo(req.PaypalAvailable))
	fmt.Fprintf(&b, "Preis: %.2f EUR\n", req.Price)
	if req.AdditionalNotes != "" {
		fmt.Fprintf(&b, "Zusätzliche Hinweise: %s\n", req.AdditionalNotes)
	}
	fmt.Fprintf(&b, `
Erstelle genau %d Titel-Varianten (max. 65 Zeichen) mit den Stilen NEUTRAL, URGENT und FRIENDLY,
eine Beschreibung (max. 1200 Zeichen), genau %d Stichpunkte und genau %d Such-Tags.

Antworte exakt in diesem Format:
{"titleVariants": [{"title": "string", "style": "NEUTRAL"}], "description": "string", "bulletPoints": ["string"], "searchTags": ["string"]}`,
		TitleVariantCount, BulletPointCount, SearchTagCount)
	return b.String()
}
