package app

const (
	Name           = "termlink"
	ConfigFilename = "config.json"
	DBFilename     = "journal.db"
	LogFilename    = "termlink.log"
)
