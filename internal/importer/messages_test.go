package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"

	"github.com/sells-group/property-import/internal/model"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		kind   model.ErrorKind
		locale string
		want   string
	}{
		{model.KindInsufficientCredits, "en", "You do not have enough credits to import these files."},
		{model.KindInsufficientCredits, "es", "No tienes créditos suficientes para importar estos archivos."},
		{model.KindInsufficientCredits, "fr-CA", "Vous n'avez pas assez de crédits pour importer ces fichiers."},
		{model.KindCancelled, "es-MX", "La importación fue cancelada."},
		{model.KindCancelled, "de", "The import was cancelled."},
		{model.KindCancelled, "", "The import was cancelled."},
		{model.KindCancelled, "not a locale!", "The import was cancelled."},
		{"mystery", "en", "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.kind, tt.locale))
		})
	}
}

func TestUserMessage_EveryKindTranslated(t *testing.T) {
	for tag, msgs := range translations {
		for kind, key := range userMessages {
			_, ok := msgs[key]
			assert.True(t, ok, "%s missing translation for %s", tag, kind)
		}
	}
}

func TestMatchLocale(t *testing.T) {
	assert.Equal(t, language.Spanish, matchLocale("es-AR"))
	assert.Equal(t, language.French, matchLocale("fr"))
	assert.Equal(t, language.English, matchLocale("ja"))
}

func TestStatusMessage(t *testing.T) {
	processing := model.BatchJob{State: model.JobStateProcessing, ProcessedFiles: 1, TotalFiles: 3}
	assert.Equal(t, "1 of 3 files processed", StatusMessage(processing, "en"))
	assert.Equal(t, "1 de 3 archivos procesados", StatusMessage(processing, "es"))
	assert.Equal(t, "1 fichiers traités sur 3", StatusMessage(processing, "fr"))

	done := model.BatchJob{State: model.JobStateCompleted, ProcessedFiles: 3, TotalFiles: 3}
	assert.Equal(t, "Importación completada: 3 archivos procesados", StatusMessage(done, "es"))

	failed := model.BatchJob{State: model.JobStateFailed, ErrorKind: model.KindMerge}
	assert.Equal(t, "Impossible d'enregistrer les données extraites du bien.", StatusMessage(failed, "fr"))
}
