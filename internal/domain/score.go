package domain

// Per-dimension maxima. The dimensions always sum to at most 100.
const (
	MaxPain       = 25
	MaxUrgency    = 20
	MaxCommercial = 20
	MaxProximity  = 15
	MaxFit        = 20
)

// ScoreVector holds the five intent dimensions returned by the classifier.
// Classifier output is untrusted: callers must go through Clamped/Total
// rather than summing raw fields.
type ScoreVector struct {
	Pain       int
	Urgency    int
	Commercial int
	Proximity  int
	Fit        int
}

// Clamped floors every dimension at zero and caps it at its maximum.
func (v ScoreVector) Clamped() ScoreVector {
	return ScoreVector{
		Pain:       clamp(v.Pain, MaxPain),
		Urgency:    clamp(v.Urgency, MaxUrgency),
		Commercial: clamp(v.Commercial, MaxCommercial),
		Proximity:  clamp(v.Proximity, MaxProximity),
		Fit:        clamp(v.Fit, MaxFit),
	}
}

// Total sums the clamped dimensions. The result is always in [0,100].
func (v ScoreVector) Total() int {
	c := v.Clamped()
	return c.Pain + c.Urgency + c.Commercial + c.Proximity + c.Fit
}

func clamp(value, max int) int {
	if value < 0 {
		return 0
	}
	if value > max {
		return max
	}
	return value
}

// ScoreRequest is the bounded payload sent to the classifier. Context is a
// short platform hint (subreddit, repo, dataset id), never the full
// metadata blob.
type ScoreRequest struct {
	Title   string
	Body    string
	Context string
	Author  string
}

// ScoreResult is the parsed classifier response.
type ScoreResult struct {
	Scores    ScoreVector
	Category  Category
	Rationale string
	Hook      string
}

// FallbackResult is substituted when the classifier is unreachable or its
// response cannot be parsed. The signal is still persisted with it.
func FallbackResult(reason string) ScoreResult {
	return ScoreResult{Category: CategoryNone, Rationale: reason}
}

// Category is one of a closed set of topical labels.
type Category string

const (
	CategoryAnnotationQuality Category = "annotation-quality"
	CategoryDatasetBias       Category = "dataset-bias"
	CategoryEvalBottleneck    Category = "eval-bottleneck"
	CategoryGroundTruth       Category = "ground-truth-scaling"
	CategorySyntheticData     Category = "synthetic-data-limitation"
	CategoryToolingWorkflow   Category = "tooling-workflow"
	CategoryBudgetScaling     Category = "budget-scaling"
	CategoryNone              Category = "none-of-above"
)

var knownCategories = map[Category]struct{}{
	CategoryAnnotationQuality: {},
	CategoryDatasetBias:       {},
	CategoryEvalBottleneck:    {},
	CategoryGroundTruth:       {},
	CategorySyntheticData:     {},
	CategoryToolingWorkflow:   {},
	CategoryBudgetScaling:     {},
	CategoryNone:              {},
}

// ParseCategory maps a classifier label onto the closed set, falling back
// to CategoryNone for anything unknown.
func ParseCategory(label string) Category {
	c := Category(label)
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return CategoryNone
}
