package ldclient

import "strconv"

// Segment describes a group of users that can be referenced from flag rules with the
// segmentMatch operator.
type Segment struct {
	Key      string        `json:"key" bson:"key"`
	Included []string      `json:"included" bson:"included"`
	Excluded []string      `json:"excluded" bson:"excluded"`
	Salt     string        `json:"salt" bson:"salt"`
	Rules    []SegmentRule `json:"rules" bson:"rules"`
	Version  int           `json:"version" bson:"version"`
	Deleted  bool          `json:"deleted" bson:"deleted"`
	// Unbounded is true if this is a big segment: its membership is not stored with the
	// segment itself, but queried from a BigSegmentStore keyed by user hash.
	Unbounded bool `json:"unbounded,omitempty" bson:"unbounded,omitempty"`
	// Generation distinguishes successive copies of a big segment's membership data. It is
	// part of the key for membership queries; an unbounded segment without a generation
	// cannot be queried.
	Generation *int `json:"generation,omitempty" bson:"generation,omitempty"`
}

// GetKey returns the unique key describing a segment.
func (s *Segment) GetKey() string {
	return s.Key
}

// GetVersion returns the version of a segment.
func (s *Segment) GetVersion() int {
	return s.Version
}

// IsDeleted returns whether a segment has been deleted.
func (s *Segment) IsDeleted() bool {
	return s.Deleted
}

// Clone returns a copy of a segment.
func (s *Segment) Clone() VersionedData {
	s1 := *s
	return &s1
}

// SegmentRule describes a set of clauses that imply segment membership, with an optional
// percentage weight.
type SegmentRule struct {
	Id       string   `json:"id,omitempty" bson:"id,omitempty"` //nolint:golint
	Clauses  []Clause `json:"clauses" bson:"clauses"`
	Weight   *int     `json:"weight,omitempty" bson:"weight,omitempty"`
	BucketBy *string  `json:"bucketBy,omitempty" bson:"bucketBy,omitempty"`
}

// makeBigSegmentRef constructs the key under which a big segment's membership is stored.
// This includes the generation so that a reprocessed segment invalidates older data.
func makeBigSegmentRef(s *Segment) string {
	if s.Generation == nil {
		return s.Key
	}
	return s.Key + ".g" + strconv.Itoa(*s.Generation)
}

// segmentContainsUser determines segment membership during an evaluation. For a big segment,
// the membership list in the store takes precedence; users not mentioned there fall through
// to the segment's rules.
func (s *evaluationScope) segmentContainsUser(segment *Segment) bool {
	if s.user.Key == nil {
		return false
	}
	userKey := *s.user.Key

	if segment.Unbounded {
		if segment.Generation == nil {
			// A big segment that has not been fully processed yet has no generation; we
			// cannot query its membership.
			s.bigSegmentsStatus = BigSegmentsNotConfigured
			return false
		}
		if !s.bigSegmentsUserDone {
			s.bigSegmentsUserDone = true
			if s.bigSegments == nil {
				s.bigSegmentsStatus = BigSegmentsNotConfigured
			} else {
				s.bigSegmentsUser, s.bigSegmentsStatus = s.bigSegments.getUserMembership(userKey)
			}
		}
		if s.bigSegmentsUser != nil {
			if included := s.bigSegmentsUser.CheckMembership(makeBigSegmentRef(segment)); included != nil {
				return *included
			}
		}
		return s.segmentRuleMatchUser(segment, userKey)
	}

	// Check if the user is included in the segment by key
	for _, key := range segment.Included {
		if userKey == key {
			return true
		}
	}

	// Check if the user is excluded from the segment by key
	for _, key := range segment.Excluded {
		if userKey == key {
			return false
		}
	}

	return s.segmentRuleMatchUser(segment, userKey)
}

func (s *evaluationScope) segmentRuleMatchUser(segment *Segment, userKey string) bool {
	for i := range segment.Rules {
		if s.segmentRuleMatchesUser(&segment.Rules[i], segment.Key, segment.Salt) {
			return true
		}
	}
	return false
}

func (s *evaluationScope) segmentRuleMatchesUser(rule *SegmentRule, key, salt string) bool {
	for i := range rule.Clauses {
		if !rule.Clauses[i].matchesUserNoSegments(s.user) {
			return false
		}
	}

	// If the Weight is absent, this rule matches
	if rule.Weight == nil {
		return true
	}

	// All of the clauses are met. Check to see if the user buckets in
	bucketBy := userKeyAttr
	if rule.BucketBy != nil {
		bucketBy = *rule.BucketBy
	}

	bucket := bucketUser(s.user, key, bucketBy, salt, nil, false)
	weight := float32(*rule.Weight) / 100000.0

	return bucket < weight
}
