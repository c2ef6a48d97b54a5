package pipeline

import (
	"encoding/json"
	"net/url"
	"strings"

	lambdaevents "github.com/aws/aws-lambda-go/events"

	"github.com/storacha/linkdex/pkg/store"
)

// ExtractRecords unwraps the S3 notifications carried in SNS messages.
// Messages that do not parse are logged and skipped, and records from
// sources other than S3 are dropped.
func ExtractRecords(evt lambdaevents.SNSEvent) []lambdaevents.S3EventRecord {
	var out []lambdaevents.S3EventRecord
	for _, rec := range evt.Records {
		var s3evt lambdaevents.S3Event
		if err := json.Unmarshal([]byte(rec.SNS.Message), &s3evt); err != nil {
			log.Errorw("failed to extract S3 event from SNS record", "message_id", rec.SNS.MessageID, "error", err)
			continue
		}
		for _, r := range s3evt.Records {
			if r.EventSource != "aws:s3" {
				continue
			}
			out = append(out, r)
		}
	}
	return out
}

// Created keeps the records announcing a newly created CAR archive.
func Created(records []lambdaevents.S3EventRecord) []lambdaevents.S3EventRecord {
	var out []lambdaevents.S3EventRecord
	for _, r := range records {
		if strings.HasPrefix(r.EventName, "ObjectCreated") && store.IsCAR(objectKey(r)) {
			out = append(out, r)
		}
	}
	return out
}

// objectKey returns the key of the record's object. S3 URL encodes keys in
// notifications.
func objectKey(r lambdaevents.S3EventRecord) string {
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		return r.S3.Object.Key
	}
	return key
}
