package society

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tyemirov/societyclient/pkg/apiclient"
)

// MaritalStatusMarried is the only status for which a spouse record is sent.
const MaritalStatusMarried = "MARRIED"

const photoFieldName = "file"

// Address is the member's current and paternal residence.
type Address struct {
	ID               int64  `json:"id,omitempty"`
	MemberID         int64  `json:"memberId,omitempty"`
	CurrentState     string `json:"currentState,omitempty"`
	CurrentDistrict  string `json:"currentDistrict,omitempty"`
	CurrentTahsil    string `json:"currentTahsil,omitempty"`
	CurrentVillage   string `json:"currentVillage,omitempty"`
	PaternalState    string `json:"paternalState,omitempty"`
	PaternalDistrict string `json:"paternalDistrict,omitempty"`
	PaternalTahsil   string `json:"paternalTahsil,omitempty"`
	PaternalVillage  string `json:"paternalVillage,omitempty"`
}

// Relative is a spouse or child record.
type Relative struct {
	ID         int64   `json:"id,omitempty"`
	MemberID   int64   `json:"memberId,omitempty"`
	Name       string  `json:"name"`
	DOB        *string `json:"dob,omitempty"`
	Gotra      string  `json:"gotra,omitempty"`
	Education  string  `json:"education,omitempty"`
	Occupation string  `json:"occupation,omitempty"`
	PhotoID    *string `json:"photoId,omitempty"`
}

// Member is a society member record.
type Member struct {
	ID            int64      `json:"id,omitempty"`
	Name          string     `json:"name"`
	Role          string     `json:"role,omitempty"`
	FatherName    string     `json:"fatherName,omitempty"`
	MotherName    string     `json:"motherName,omitempty"`
	MotherGotra   string     `json:"motherGotra,omitempty"`
	DOB           *string    `json:"dob,omitempty"`
	Education     string     `json:"education,omitempty"`
	Occupation    string     `json:"occupation,omitempty"`
	Gotra         string     `json:"gotra,omitempty"`
	ContactNumber string     `json:"contactNumber,omitempty"`
	PhotoID       *string    `json:"photoId,omitempty"`
	MaritalStatus string     `json:"maritalStatus,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	IsActive      bool       `json:"isActive"`
	Address       *Address   `json:"address,omitempty"`
	Spouse        *Relative  `json:"spouse,omitempty"`
	Children      []Relative `json:"children"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// Validate checks the fields the backend requires.
func (member Member) Validate() error {
	if strings.TrimSpace(member.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMember)
	}
	if member.married() && (member.Spouse == nil || strings.TrimSpace(member.Spouse.Name) == "") {
		return fmt.Errorf("%w: spouse name is required for married members", ErrInvalidMember)
	}
	return nil
}

func (member Member) married() bool {
	return strings.EqualFold(member.MaritalStatus, MaritalStatusMarried)
}

// payload shapes the record the way the backend expects it.
func (member Member) payload() Member {
	shaped := member
	shaped.Name = strings.TrimSpace(member.Name)
	if shaped.Role == "" {
		shaped.Role = RoleMember
	}
	if !member.married() {
		shaped.Spouse = nil
	}
	shaped.Children = append([]Relative{}, member.Children...)
	shaped.UpdatedAt = nil
	return shaped
}

// ListQuery selects a page of members. Sort is "field" or "field,desc".
type ListQuery struct {
	Page   int
	Size   int
	Search string
	Sort   string
}

func (query ListQuery) values() url.Values {
	values := pageValues(query.Page, query.Size)
	if search := strings.TrimSpace(query.Search); search != "" {
		values.Set("search", search)
	}
	if sortSpec := strings.TrimSpace(query.Sort); sortSpec != "" {
		values.Set("sort", sortSpec)
	}
	return values
}

// ExportFile is a downloaded document.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Members is the members directory.
type Members struct {
	client Requester
}

// NewMembers constructs the directory over client.
func NewMembers(client Requester) *Members {
	return &Members{client: client}
}

// List returns one page of members.
func (members *Members) List(ctx context.Context, query ListQuery) (Page[Member], error) {
	response, err := members.client.Do(ctx, http.MethodGet, PathMembers, apiclient.RequestOptions{Query: query.values()})
	if err != nil {
		return Page[Member]{}, err
	}
	return decodePage[Member](response.Body)
}

// Get returns one member.
func (members *Members) Get(ctx context.Context, memberID int64) (Member, error) {
	path, err := memberPath(memberID, "")
	if err != nil {
		return Member{}, err
	}
	response, err := members.client.Do(ctx, http.MethodGet, path, apiclient.RequestOptions{})
	if err != nil {
		return Member{}, err
	}
	return decodeEntity[Member](response.Body)
}

// Create stores a new member.
func (members *Members) Create(ctx context.Context, member Member) (Member, error) {
	if err := member.Validate(); err != nil {
		return Member{}, err
	}
	payload := member.payload()
	payload.ID = 0
	response, err := members.client.Do(ctx, http.MethodPost, PathMembers, apiclient.RequestOptions{Body: payload})
	if err != nil {
		return Member{}, err
	}
	return decodeEntity[Member](response.Body)
}

// Update replaces the member with memberID.
func (members *Members) Update(ctx context.Context, memberID int64, member Member) (Member, error) {
	path, err := memberPath(memberID, "")
	if err != nil {
		return Member{}, err
	}
	if err := member.Validate(); err != nil {
		return Member{}, err
	}
	payload := member.payload()
	payload.ID = memberID
	response, err := members.client.Do(ctx, http.MethodPut, path, apiclient.RequestOptions{Body: payload})
	if err != nil {
		return Member{}, err
	}
	return decodeEntity[Member](response.Body)
}

// Delete removes the member with memberID.
func (members *Members) Delete(ctx context.Context, memberID int64) error {
	path, err := memberPath(memberID, "")
	if err != nil {
		return err
	}
	_, err = members.client.Do(ctx, http.MethodDelete, path, apiclient.RequestOptions{})
	return err
}

// UploadPhoto sends photo as the multipart "file" part and returns the updated member.
func (members *Members) UploadPhoto(ctx context.Context, memberID int64, filename string, photo io.Reader) (Member, error) {
	path, err := memberPath(memberID, "photo")
	if err != nil {
		return Member{}, err
	}
	body, err := apiclient.NewMultipartBody(nil, apiclient.FormFile{
		FieldName: photoFieldName,
		FileName:  filename,
		Content:   photo,
	})
	if err != nil {
		return Member{}, fmt.Errorf("society.members.photo: %w", err)
	}
	response, err := members.client.Do(ctx, http.MethodPost, path, apiclient.RequestOptions{Body: body})
	if err != nil {
		return Member{}, err
	}
	return decodeEntity[Member](response.Body)
}

// Export downloads the members document. The filename comes from Content-Disposition.
func (members *Members) Export(ctx context.Context, query url.Values) (ExportFile, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/pdf")
	response, err := members.client.Do(ctx, http.MethodGet, PathMemberExport, apiclient.RequestOptions{
		Query:   query,
		Headers: headers,
	})
	if err != nil {
		return ExportFile{}, err
	}
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	filename, found := FilenameFromDisposition(response.Header.Get("Content-Disposition"))
	if !found {
		filename = defaultDownloadName
	}
	return ExportFile{
		Filename:    SanitizeFilename(filename),
		ContentType: contentType,
		Data:        response.Body,
	}, nil
}

func memberPath(memberID int64, suffix string) (string, error) {
	if memberID <= 0 {
		return "", fmt.Errorf("society.members: %w: %d", ErrInvalidIdentifier, memberID)
	}
	path := PathMembers + "/" + strconv.FormatInt(memberID, 10)
	if suffix != "" {
		path += "/" + suffix
	}
	return path, nil
}
