package notify

import "fmt"

const (
	SubjectFulfilled        = "Your As-Built Download Request Has Been Fulfilled"
	SubjectPartial          = "Your As-Built Download Request Has Been Partially Fulfilled"
	SubjectUnknownRequester = "! As-Built Requester Unknown: "
	SubjectLayersProcessed  = "Your GIS Files Request has been Processed"
	SubjectRunFailed        = "Error in GIS Request Fulfillment"
	SubjectRunWithErrors    = "GIS Request Fulfillment Completed With Errors"
)

var requesterFooter = []string{
	"Thank you for using the As-Built / GIS File Downloader.",
	"[This is an autogenerated email]",
}

// DocumentsDelivery describes what the document engine delivered for one request.
type DocumentsDelivery struct {
	From            string
	Requester       string
	Folder          string
	Link            string
	Found           int
	LayersRequested bool
	LayersDelivered bool
}

// FulfilledMessage is sent to an approved requester once their documents are in place.
func FulfilledMessage(d DocumentsDelivery) Message {
	msg := Message{
		From:    d.From,
		To:      []string{d.Requester},
		Subject: SubjectFulfilled,
		Link:    d.Link,
		Footer:  requesterFooter,
		Paragraphs: []string{
			fmt.Sprintf("Your As-Built download request [%s] has been fulfilled. A total of %d as-built records were found in the specified search area.", d.Folder, d.Found),
		},
	}
	switch {
	case d.LayersDelivered:
		msg.Paragraphs = append(msg.Paragraphs, "Please find the requested pdfs at the below link, as well as GIS files (shapefiles and GeoPackages). It may take several minutes for the files to upload.")
	case d.LayersRequested:
		msg.Subject = SubjectPartial
		msg.Paragraphs = append(msg.Paragraphs,
			"Please find the requested pdfs at the below link. It may take several minutes for the files to upload.",
			"Your GIS files could not be prepared yet. You will receive a separate email once they are ready.")
	default:
		msg.Paragraphs = append(msg.Paragraphs, "Please find the requested pdfs at the below link. It may take several minutes for the files to upload.")
	}
	return msg
}

// UnknownRequesterMessage goes to the administrator when the requester is not on the
// approved list, with the full record attached as a table.
func UnknownRequesterMessage(d DocumentsDelivery, admin string, record Table) Message {
	return Message{
		From:    d.From,
		To:      []string{admin},
		Subject: SubjectUnknownRequester + d.Requester,
		Link:    d.Link,
		Table:   &record,
		Footer:  requesterFooter,
		Paragraphs: []string{
			fmt.Sprintf("An As-Built download request has been submitted by an unknown user. A total of %d records were found in the specified search area.", d.Found),
			"The unknown user's email address is: " + d.Requester,
			"If this is a valid user, please forward the files to the appropriate recipient and add them to the approved list in the settings file.",
			"The requested files can be found at the following location:",
		},
	}
}

// LayersProcessedMessage is sent when a request asked for GIS files only.
func LayersProcessedMessage(from, to, link, utilities string) Message {
	return Message{
		From:    from,
		To:      []string{to},
		Subject: SubjectLayersProcessed,
		Link:    link,
		Footer:  requesterFooter,
		Paragraphs: []string{
			"Your GIS files have been processed.",
			"Requested Utilities: " + utilities,
		},
	}
}

// UnknownLayersRequesterMessage is the GIS-only counterpart of UnknownRequesterMessage.
func UnknownLayersRequesterMessage(from, admin, requester, link string, record Table) Message {
	return Message{
		From:    from,
		To:      []string{admin},
		Subject: SubjectUnknownRequester + requester,
		Link:    link,
		Table:   &record,
		Footer:  requesterFooter,
		Paragraphs: []string{
			"A GIS files request has been submitted by an unknown user.",
			"The unknown user's email address is: " + requester,
			"If this is a valid user, please forward the files to the appropriate recipient and add them to the approved list in the settings file.",
		},
	}
}

// RunContext identifies the record a run was working on when it stopped.
type RunContext struct {
	RunID     string
	LogFile   string
	RequestID string
	Folder    string
	Email     string
	Utilities string
}

func (c RunContext) paragraphs() []string {
	return []string{
		"Run: " + c.RunID,
		"Check the log file for more details: " + c.LogFile,
		"Request: " + c.RequestID,
		"Folder: " + c.Folder,
		"Email: " + c.Email,
		"Utilities: " + c.Utilities,
	}
}

// RunFailedMessage is the single administrator summary of a run that stopped on a
// fatal error.
func RunFailedMessage(from, admin string, rc RunContext, ledger Table) Message {
	return Message{
		From:       from,
		To:         []string{admin},
		Subject:    SubjectRunFailed,
		Paragraphs: append([]string{"An error occurred and the run was stopped."}, rc.paragraphs()...),
		Table:      &ledger,
	}
}

// RunWithErrorsMessage summarizes the recoverable errors of a run that finished.
func RunWithErrorsMessage(from, admin string, rc RunContext, ledger Table) Message {
	return Message{
		From:    from,
		To:      []string{admin},
		Subject: SubjectRunWithErrors,
		Paragraphs: []string{
			fmt.Sprintf("The run finished but recorded %d error(s).", len(ledger.Rows)),
			"Outputs that did not complete stay pending and will be retried on the next run. Skipped layers and missing documents are not retried; the request was delivered without them.",
			"Run: " + rc.RunID,
			"Check the log file for more details: " + rc.LogFile,
		},
		Table: &ledger,
	}
}
