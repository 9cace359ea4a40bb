// Workflow stages: guardrail gating and receipt extraction
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewh/infercheck/pkg/extract"
	"github.com/andrewh/infercheck/pkg/fetch"
	"github.com/andrewh/infercheck/pkg/generate"
	"github.com/andrewh/infercheck/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	WorkflowGuardrails = "llama_guardrails"
	WorkflowReceipt    = "multimodal_receipt"
)

// Generator is the generation stage as the workflows use it.
type Generator interface {
	Generate(ctx context.Context, prompt string, image []byte, gate bool) (*generate.Outcome, error)
}

// GuardrailStage generates a response and classifies it, comparing the verdict
// with the scenario's expectation.
type GuardrailStage struct {
	Generator Generator
}

func (s *GuardrailStage) Run(ctx context.Context, sc Scenario) (Outcome, error) {
	want := sc.WantSafe()
	out := Outcome{InputPrompt: sc.Prompt, ExpectedValue: want}

	gen, err := s.Generator.Generate(ctx, sc.Prompt, nil, true)
	if err != nil {
		var gerr *generate.GateError
		if errors.As(err, &gerr) {
			out.ProducedText = gerr.Generated
		}
		return out, err
	}
	out.ProducedText = gen.Text
	if gen.Verdict == nil {
		return out, errors.New("generation returned no safety verdict")
	}
	out.Verdict = gen.Verdict
	out.MatchedExpectation = gen.Verdict.Safe == want
	return out, nil
}

// ReceiptPrompt asks the model for the receipt's products as JSON.
const ReceiptPrompt = `Analyse ce ticket de caisse et extrais tous les produits avec leurs prix.

Format de réponse attendu (JSON):
{
  "products": [
    {
      "name": "nom du produit",
      "price": prix_en_euros,
      "quantity": quantité_si_disponible
    }
  ],
  "total": montant_total_en_euros,
  "date": "date_du_ticket",
  "store": "nom_du_magasin"
}

Extrais uniquement les informations présentes sur le ticket.`

// ReceiptStage loads the scenario's image, asks for a structured reading of it,
// and extracts a record from the answer. Extraction itself never fails.
type ReceiptStage struct {
	Generator Generator
	Recorder  *telemetry.Recorder
	Fetcher   *fetch.Fetcher
}

func (s *ReceiptStage) Run(ctx context.Context, sc Scenario) (Outcome, error) {
	prompt := sc.Prompt
	if prompt == "" {
		prompt = ReceiptPrompt
	}
	out := Outcome{InputPrompt: prompt, MatchedExpectation: true}

	fetcher := s.Fetcher
	if fetcher == nil {
		fetcher = fetch.Image()
	}
	image, err := fetcher.Read(ctx, sc.Image)
	if err != nil {
		return out, fmt.Errorf("loading receipt image: %w", err)
	}
	if len(image) == 0 {
		return out, fmt.Errorf("receipt image %s is empty", sc.Image)
	}

	gen, err := s.Generator.Generate(ctx, prompt, image, false)
	if err != nil {
		return out, err
	}
	out.ProducedText = gen.Text

	_, span := s.Recorder.Start(ctx, "parse_response")
	rec := extract.Parse(gen.Text)
	span.SetAttributes(
		attribute.Int("products_count", len(rec.LineItems)),
		attribute.Bool("extraction.fallback", rec.Fallback()),
	)
	if rec.Total != nil {
		span.SetAttribute("total_amount", rec.Total.InexactFloat64())
	}
	span.End(telemetry.StatusOK)

	out.Record = &rec
	return out, nil
}

// ReceiptScenario wraps an image locator as a single receipt scenario.
func ReceiptScenario(image string) Scenario {
	return Scenario{Name: image, Prompt: ReceiptPrompt, Image: image}
}
