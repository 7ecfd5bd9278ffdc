package hikcentral

import (
	"encoding/base64"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/tidwall/gjson"
)

// Artemis API paths. Every call is a POST with a JSON body.
const (
	PathAddPerson      = "/artemis/api/resource/v1/person/single/add"
	PathUpdatePerson   = "/artemis/api/resource/v1/person/single/update"
	PathDeletePerson   = "/artemis/api/resource/v1/person/single/delete"
	PathPersonByCode   = "/artemis/api/resource/v1/person/personCode/personInfo"
	PathPersonInfo     = "/artemis/api/resource/v1/person/single/info"
	PathGenerateQRCode = "/artemis/api/visitor/access/qrCode/generate"
)

const (
	artemisTimeLayout = "2006-01-02T15:04:05-07:00"

	defaultGender          = 1
	defaultCertificateType = 111
	defaultPersonType      = 1
)

// Person is the upstream view of a person record.
type Person struct {
	ID         string
	Code       string
	GivenName  string
	FamilyName string
	Phone      string
	Email      string
	Faces      []domain.FaceRecord
}

type faceRequest struct {
	FaceData string `json:"faceData"`
}

type personRequest struct {
	PersonID         string        `json:"personId,omitempty"`
	PersonCode       string        `json:"personCode,omitempty"`
	PersonFamilyName string        `json:"personFamilyName"`
	PersonGivenName  string        `json:"personGivenName"`
	Gender           int           `json:"gender"`
	OrgIndexCode     string        `json:"orgIndexCode,omitempty"`
	PhoneNo          string        `json:"phoneNo"`
	Email            string        `json:"email"`
	CertificateType  int           `json:"certificateType"`
	PersonType       int           `json:"personType"`
	BeginTime        string        `json:"beginTime,omitempty"`
	EndTime          string        `json:"endTime,omitempty"`
	Faces            []faceRequest `json:"faces,omitempty"`
}

type personIDRequest struct {
	PersonID string `json:"personId"`
}

type personCodeRequest struct {
	PersonCode string `json:"personCode"`
}

type qrCodeRequest struct {
	PersonID        string `json:"personId"`
	UnitID          string `json:"unitId,omitempty"`
	ValidityMinutes int    `json:"validityMinutes"`
}

func newPersonRequest(attrs domain.Attributes) personRequest {
	given, family := domain.SplitName(attrs.Name)
	req := personRequest{
		PersonFamilyName: family,
		PersonGivenName:  given,
		Gender:           defaultGender,
		PhoneNo:          attrs.Phone,
		Email:            attrs.Email,
		CertificateType:  defaultCertificateType,
		PersonType:       defaultPersonType,
		BeginTime:        formatArtemisTime(attrs.ValidFrom),
		EndTime:          formatArtemisTime(attrs.ValidTo),
	}
	if len(attrs.FaceImage) > 0 {
		req.Faces = []faceRequest{{FaceData: base64.StdEncoding.EncodeToString(attrs.FaceImage)}}
	}
	return req
}

func formatArtemisTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(artemisTimeLayout)
}

func personFromData(data gjson.Result) Person {
	return Person{
		ID:         data.Get("personId").String(),
		Code:       data.Get("personCode").String(),
		GivenName:  data.Get("personGivenName").String(),
		FamilyName: data.Get("personFamilyName").String(),
		Phone:      data.Get("phoneNo").String(),
		Email:      data.Get("email").String(),
		Faces:      facesFromData(data.Get("faces")),
	}
}

// facesFromData reads the face list. Older appliances name the image field
// picUri instead of faceUrl.
func facesFromData(faces gjson.Result) []domain.FaceRecord {
	if !faces.IsArray() {
		return nil
	}
	records := make([]domain.FaceRecord, 0, len(faces.Array()))
	faces.ForEach(func(_, face gjson.Result) bool {
		url := face.Get("faceUrl").String()
		if url == "" {
			url = face.Get("picUri").String()
		}
		records = append(records, domain.FaceRecord{ID: face.Get("faceId").String(), URL: url})
		return true
	})
	return records
}

// scalarOrField reads data as a bare string or, for object payloads, the
// named field. Artemis versions disagree on which shape they return.
func scalarOrField(data gjson.Result, field string) string {
	if data.Type == gjson.String {
		return data.String()
	}
	return data.Get(field).String()
}
