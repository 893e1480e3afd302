// Package tables fixes the logical table names and column headers shared by
// the booking, cascade and archive packages. Header strings are contractual:
// they are the only reliable join mechanism between tables, so every lookup
// resolves columns by header name. The clinic catalog additionally guarantees
// fixed 1-based positions 1-6 for its legacy columns.
package tables

const (
	Catalog             = "Data clinics"
	CatalogArchive      = "ARCHIEF oudere clinics"
	OpenResponses       = "Open Form Responses"
	BeslotenResponses   = "Besloten Form Responses"
	ParticipantArchive  = "ARCHIEF deelnemers"
	NonParticipantMails = "Non-participant emails"
)

// Catalog columns. Positions 1-6 are fixed (1-based); the rest is resolved
// by header lookup.
const (
	ColDate        = "Datum"
	ColTime        = "Tijdstip"
	ColLocation    = "Locatie"
	ColMaxSeats    = "Max aantal plaatsen"
	ColBookedSeats = "Aantal boekingen"
	ColType        = "Type"
	ColClinicID    = "Clinic ID"
	ColFolderID    = "Event Folder ID"
	ColCalendarID  = "Calendar Event ID"
)

const (
	CatalogDatePos     = 1
	CatalogTimePos     = 2
	CatalogLocationPos = 3
	CatalogMaxPos      = 4
	CatalogBookedPos   = 5
	CatalogTypePos     = 6
)

// Response table columns.
const (
	ColTimestamp     = "Timestamp"
	ColEmail         = "Email"
	ColFirstName     = "Voornaam"
	ColLastName      = "Achternaam"
	ColClinic        = "Clinic"
	ColPhone         = "Telefoonnummer"
	ColDOB           = "Geboortedatum"
	ColCity          = "Woonplaats"
	ColComments      = "Opmerkingen"
	ColMotivation    = "Motivatie"
	ColRegMethod     = "Manier van inschrijving"
	ColSequence      = "Deelnemernummer"
	ColPartFolderID  = "Participant Folder ID"
	ColCoreAppEmail  = "CORE-mailadres"
	ColArchived      = "Gearchiveerd"
	ColSourceTable   = "Bron"
	ColAllowedEmail  = "Email"
)

// ArchivedMark is the value stored in the Gearchiveerd column for rows that
// have a verified copy in the participant archive.
const ArchivedMark = "ja"

func CatalogHeaders() []string {
	return []string{
		ColDate, ColTime, ColLocation, ColMaxSeats, ColBookedSeats, ColType,
		ColClinicID, ColFolderID, ColCalendarID,
	}
}

func ResponseHeaders() []string {
	return []string{
		ColTimestamp, ColEmail, ColFirstName, ColLastName, ColClinic,
		ColPhone, ColDOB, ColCity, ColComments, ColMotivation,
		ColRegMethod, ColSequence, ColPartFolderID, ColCoreAppEmail, ColArchived,
	}
}

func ParticipantArchiveHeaders() []string {
	return append(ResponseHeaders(), ColSourceTable)
}
