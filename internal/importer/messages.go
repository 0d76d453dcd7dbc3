package importer

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/property-import/internal/model"
)

var supportedLocales = []language.Tag{language.English, language.Spanish, language.French}

var localeMatcher = language.NewMatcher(supportedLocales)

// userMessages holds the English text of each error kind. It doubles as the
// catalog key.
var userMessages = map[model.ErrorKind]string{
	model.KindConcurrentBatch:     "An import is already in progress. Wait for it to finish or cancel it.",
	model.KindInsufficientCredits: "You do not have enough credits to import these files.",
	model.KindMissingCredential:   "Your account uses its own provider key. Add a key to import files.",
	model.KindProviderUnavailable: "Document extraction is temporarily unavailable.",
	model.KindInsufficientContent: "The document does not contain enough readable text.",
	model.KindExtraction:          "We could not extract property data from the document.",
	model.KindMerge:               "We could not save the extracted property data.",
	model.KindCancelled:           "The import was cancelled.",
	model.KindNotFound:            "The requested record was not found.",
	model.KindInvalidRequest:      "The import request is invalid.",
	model.KindInternal:            "Something went wrong. Please try again.",
}

const (
	progressKey  = "%d of %d files processed"
	completedKey = "Import complete: %d files processed"
)

var translations = map[language.Tag]map[string]string{
	language.Spanish: {
		userMessages[model.KindConcurrentBatch]:     "Ya hay una importación en curso. Espera a que termine o cancélala.",
		userMessages[model.KindInsufficientCredits]: "No tienes créditos suficientes para importar estos archivos.",
		userMessages[model.KindMissingCredential]:   "Tu cuenta usa su propia clave de proveedor. Añade una clave para importar archivos.",
		userMessages[model.KindProviderUnavailable]: "La extracción de documentos no está disponible temporalmente.",
		userMessages[model.KindInsufficientContent]: "El documento no contiene suficiente texto legible.",
		userMessages[model.KindExtraction]:          "No pudimos extraer los datos de la propiedad del documento.",
		userMessages[model.KindMerge]:               "No pudimos guardar los datos extraídos de la propiedad.",
		userMessages[model.KindCancelled]:           "La importación fue cancelada.",
		userMessages[model.KindNotFound]:            "No se encontró el registro solicitado.",
		userMessages[model.KindInvalidRequest]:      "La solicitud de importación no es válida.",
		userMessages[model.KindInternal]:            "Algo salió mal. Inténtalo de nuevo.",
		progressKey:                                 "%d de %d archivos procesados",
		completedKey:                                "Importación completada: %d archivos procesados",
	},
	language.French: {
		userMessages[model.KindConcurrentBatch]:     "Une importation est déjà en cours. Attendez sa fin ou annulez-la.",
		userMessages[model.KindInsufficientCredits]: "Vous n'avez pas assez de crédits pour importer ces fichiers.",
		userMessages[model.KindMissingCredential]:   "Votre compte utilise sa propre clé de fournisseur. Ajoutez une clé pour importer des fichiers.",
		userMessages[model.KindProviderUnavailable]: "L'extraction de documents est temporairement indisponible.",
		userMessages[model.KindInsufficientContent]: "Le document ne contient pas assez de texte lisible.",
		userMessages[model.KindExtraction]:          "Impossible d'extraire les données du bien à partir du document.",
		userMessages[model.KindMerge]:               "Impossible d'enregistrer les données extraites du bien.",
		userMessages[model.KindCancelled]:           "L'importation a été annulée.",
		userMessages[model.KindNotFound]:            "L'enregistrement demandé est introuvable.",
		userMessages[model.KindInvalidRequest]:      "La demande d'importation n'est pas valide.",
		userMessages[model.KindInternal]:            "Une erreur s'est produite. Veuillez réessayer.",
		progressKey:                                 "%d fichiers traités sur %d",
		completedKey:                                "Importation terminée : %d fichiers traités",
	},
}

func init() {
	for tag, msgs := range translations {
		for key, msg := range msgs {
			if err := message.SetString(tag, key, msg); err != nil {
				panic(err)
			}
		}
	}
}

// matchLocale maps a BCP 47 string onto a supported locale, defaulting to
// English.
func matchLocale(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supportedLocales[idx]
}

// UserMessage returns the localized, user-facing text for an error kind.
// Unknown kinds read as an internal error.
func UserMessage(kind model.ErrorKind, locale string) string {
	key, ok := userMessages[kind]
	if !ok {
		key = userMessages[model.KindInternal]
	}
	return message.NewPrinter(matchLocale(locale)).Sprintf(key)
}

// StatusMessage returns a localized one-line summary of job progress.
func StatusMessage(job model.BatchJob, locale string) string {
	p := message.NewPrinter(matchLocale(locale))
	switch job.State {
	case model.JobStateCompleted:
		return p.Sprintf(completedKey, job.ProcessedFiles)
	case model.JobStateCancelled, model.JobStateFailed:
		if job.Error != "" {
			return job.Error
		}
		return UserMessage(job.ErrorKind, locale)
	default:
		return p.Sprintf(progressKey, job.ProcessedFiles, job.TotalFiles)
	}
}
