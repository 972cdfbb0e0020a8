package commands

// AnnotationStandalone marks commands that run without loading config.
const AnnotationStandalone = "cmdrelay.standalone"

// Error messages
const (
	ErrJournalDisabled          = "journal disabled (set journal.enabled: true)"
	ErrDoctorServiceUnavailable = "doctor service unavailable"
	ErrQueryRequired            = "--query required"
	ErrInvalidRetainDays        = "--days must be > 0"
	ErrCommandRequired          = "a command is required (or use --stdin)"
)

// Success messages
const (
	MsgConfigurationValid       = "Configuration valid"
	MsgNoDifferencesFromDefault = "No differences from default configuration."
	MsgNoJournalRecorded        = "No journal entries recorded yet."
)

// TimestampFormat is used for journal listings.
const TimestampFormat = "2006-01-02 15:04:05"

func standalone() map[string]string {
	return map[string]string{AnnotationStandalone: "true"}
}
