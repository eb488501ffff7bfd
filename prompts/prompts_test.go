package prompts

import (
	"strings"
	"testing"
)

func TestPrompts_NonEmpty(t *testing.T) {
	prompts := map[string]string{
		"Support": Support,
		"Context": Context,
		"History": History,
	}

	for name, content := range prompts {
		t.Run(name, func(t *testing.T) {
			if strings.TrimSpace(content) == "" {
				t.Errorf("%s prompt is empty", name)
			}
		})
	}
	if len(Support) < 500 {
		t.Errorf("Support prompt suspiciously short: %d bytes", len(Support))
	}
}

func TestPrompts_ExpectedKeywords(t *testing.T) {
	keywords := []string{
		"create_support_ticket",
		"get_ticket_status",
		"get_system_performance",
		"check_disk_space",
		"check_network_connection",
		"número entero",
		"español de España",
	}
	lower := strings.ToLower(Support)
	for _, kw := range keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			t.Errorf("Support prompt missing keyword %q", kw)
		}
	}
}

func TestAugment(t *testing.T) {
	got := Augment("¿Cómo configuro la VPN?", "Abre FortiClient y usa vpn.empresa.com")
	want := "Usuario pregunta: ¿Cómo configuro la VPN?\n\n" +
		"Contexto del manual IT:\nAbre FortiClient y usa vpn.empresa.com\n\n" +
		"Si la respuesta está en el contexto, úsala. Si no, usa tus herramientas."
	if got != want {
		t.Errorf("Augment() =\n%s\nwant\n%s", got, want)
	}
}

func TestWithHistory(t *testing.T) {
	if got := WithHistory(nil, "hola"); got != "hola" {
		t.Errorf("WithHistory(nil) = %q", got)
	}

	got := WithHistory([]HistoryTurn{
		{Role: "user", Content: "Mi PC va lento"},
		{Role: "assistant", Content: "La CPU está al 95%"},
	}, "crea un ticket")

	for _, want := range []string{
		"Usuario: Mi PC va lento\n",
		"Asistente: La CPU está al 95%\n",
		"Mensaje actual:\ncrea un ticket",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("WithHistory() missing %q in:\n%s", want, got)
		}
	}
}
