// Package graph defines the contributor/place/review entities and the batch
// bookkeeping types shared across the crawler subsystems.
package graph

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound signals that no row matches the requested natural key.
	ErrNotFound = errors.New("record not found")
	// ErrMissingReference signals that a review points at a contributor or
	// place that has not been persisted yet.
	ErrMissingReference = errors.New("review references an unknown contributor or place")
	// ErrUnknownPage is returned when a URL cannot be mapped to a PageType.
	ErrUnknownPage = errors.New("unrecognized page url")
)

// Contributor is a person who authored place reviews.
type Contributor struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	ProfileImageURL string `json:"profile_image_url"`
	// ExternalID is the site-assigned numeric id and the natural key.
	ExternalID string `json:"external_id"`
}

// IsEmpty reports whether the observation carries no data at all.
func (c Contributor) IsEmpty() bool {
	return c.Name == "" && c.URL == "" && c.ProfileImageURL == "" && c.ExternalID == ""
}

// Place is a point of interest keyed by name and address.
type Place struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	ProfileImageURL string `json:"profile_image_url"`
	Address         string `json:"address"`
}

// IsEmpty reports whether the observation carries no data at all.
func (p Place) IsEmpty() bool {
	return p.Name == "" && p.URL == "" && p.ProfileImageURL == "" && p.Address == ""
}

// Review is the persisted "contributor reviewed place" edge.
type Review struct {
	ID            int64
	ContributorID int64
	PlaceID       int64
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReviewObservation is a review expressed through natural keys. Stores
// resolve it to surrogate ids at write time.
type ReviewObservation struct {
	ContributorExternalID string
	PlaceName             string
	PlaceAddress          string
	URL                   string
}

// ReviewedPlace is one entry harvested from a contributor's review list.
type ReviewedPlace struct {
	ReviewID  string
	Place     Place
	ReviewURL string
}

// Reviewer is one entry harvested from a place's review list.
type Reviewer struct {
	ReviewID    string
	Contributor Contributor
	ReviewURL   string
}

// Status is the lifecycle state recorded in the batch status log.
type Status string

// Batch status values persisted in batch_status.status.
const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// JobType identifies which traversal phase a batch covers.
type JobType string

// Job types persisted in batch_status.type.
const (
	// JobContrib enumerates the places one contributor reviewed.
	JobContrib JobType = "contrib"
	// JobContribPlace enumerates a contributor's places and visits each one.
	JobContribPlace JobType = "contrib-place"
	// JobPlace resolves a place from its details pane and enumerates reviewers.
	JobPlace JobType = "place"
	// JobPlaceContrib enumerates the other reviewers of an open review list.
	JobPlaceContrib JobType = "place-contrib"
)

// ParseJobType validates a raw job type string.
func ParseJobType(raw string) (JobType, error) {
	switch jt := JobType(strings.TrimSpace(raw)); jt {
	case JobContrib, JobContribPlace, JobPlace, JobPlaceContrib:
		return jt, nil
	default:
		return "", fmt.Errorf("unknown job type %q", raw)
	}
}

// BatchStatus is one immutable entry of the batch status log.
type BatchStatus struct {
	SubjectID string    `json:"subject_id"`
	JobType   JobType   `json:"job_type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PageType tags the kind of page a crawl target points at.
type PageType int

// Page types handled by the dispatcher.
const (
	PageUnknown PageType = iota
	PageContributorReviews
	PagePlaceReviews
	PagePlaceDetails
)

func (p PageType) String() string {
	switch p {
	case PageContributorReviews:
		return "contributor-reviews"
	case PagePlaceReviews:
		return "place-reviews"
	case PagePlaceDetails:
		return "place-details"
	default:
		return "unknown"
	}
}

// DefaultJobType maps a page type to the batch phase it runs under when the
// caller did not pick one explicitly.
func (p PageType) DefaultJobType() JobType {
	switch p {
	case PagePlaceDetails:
		return JobPlace
	case PagePlaceReviews:
		return JobPlaceContrib
	default:
		return JobContrib
	}
}

// placeReviewsMarker is the data-parameter fragment Maps appends when the
// review tab of a place is open.
const placeReviewsMarker = "!9m1!1b1"

var (
	contributorIDPattern = regexp.MustCompile(`contrib/(\d+)`)
	placeFeaturePattern  = regexp.MustCompile(`!1s(0x[0-9a-f]+:0x[0-9a-f]+)`)
)

// ClassifyURL resolves the page type of a crawl target once, at the routing
// boundary.
func ClassifyURL(raw string) (PageType, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return PageUnknown, fmt.Errorf("parse target url: %w", err)
	}
	path := u.EscapedPath()
	switch {
	case strings.Contains(path, "/contrib/"):
		return PageContributorReviews, nil
	case strings.Contains(path, "/maps/place/"):
		if strings.Contains(raw, placeReviewsMarker) {
			return PagePlaceReviews, nil
		}
		return PagePlaceDetails, nil
	default:
		return PageUnknown, fmt.Errorf("%w: %s", ErrUnknownPage, raw)
	}
}

// ContributorIDFromURL extracts the numeric contributor id from a
// /maps/contrib/<id>/... URL. It returns "" when the URL carries none.
func ContributorIDFromURL(raw string) string {
	m := contributorIDPattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// PlaceSubjectID derives the batch subject of a place job from its URL: the
// feature id embedded in the data parameter when present, else the place
// path segment.
func PlaceSubjectID(raw string) string {
	if m := placeFeaturePattern.FindStringSubmatch(raw); len(m) == 2 {
		return m[1]
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	_, rest, ok := strings.Cut(u.Path, "/maps/place/")
	if !ok {
		return raw
	}
	name, _, _ := strings.Cut(rest, "/")
	if name == "" {
		return raw
	}
	return name
}

// ContributorReviewsURL builds the canonical review list URL for a contributor.
func ContributorReviewsURL(externalID string) string {
	return fmt.Sprintf("https://www.google.com/maps/contrib/%s/reviews", externalID)
}

// Target is one unit of work in the crawl frontier.
type Target struct {
	URL  string
	Page PageType
	Job  JobType
	// SeedName is the display name of the contributor whose traversal
	// produced this target; their own reviews are filtered out.
	SeedName string
	Depth    int
}
