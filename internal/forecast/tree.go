package forecast

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// treeNode is one node of a regression tree. Leaves keep Left and Right nil;
// fields are exported for gob.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      *treeNode
	Right     *treeNode
	Value     float64
}

// predict walks the tree for one feature row.
func (t *treeNode) predict(row []float64) float64 {
	for t.Left != nil {
		if row[t.Feature] <= t.Threshold {
			t = t.Left
		} else {
			t = t.Right
		}
	}
	return t.Value
}

// boostedModel is a least-squares gradient-boosted tree ensemble. Base is the
// training-target mean; every tree corrects the running residual scaled by
// LearningRate.
type boostedModel struct {
	Base           float64
	LearningRate   float64
	Trees          []*treeNode
	SalesType      string
	FeatureNames   []string
	TrainedAt      time.Time
	ValidationMAE  float64
	ValidationMAPE float64
}

func (m *boostedModel) predict(row []float64) float64 {
	out := m.Base
	for _, t := range m.Trees {
		out += m.LearningRate * t.predict(row)
	}
	return out
}

// trainParams are the boosting hyperparameters. tuned_params.json in the
// data dir overrides the defaults when present.
type trainParams struct {
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_leaf"`
	Rounds       int     `json:"rounds"`
	EarlyStop    int     `json:"early_stop"`
	Subsample    float64 `json:"subsample"`
	Seed         int64   `json:"seed"`
}

func defaultParams() trainParams {
	return trainParams{
		LearningRate: 0.05,
		MaxDepth:     4,
		MinLeaf:      20,
		Rounds:       500,
		EarlyStop:    50,
		Subsample:    0.8,
		Seed:         42,
	}
}

// fitBoosted trains with least-squares residual fitting and MAE early
// stopping on the validation tail. Model output is multiplied by scale
// (the winsorization clip ratio) before it is compared against the raw
// validation targets. The ensemble is truncated to the best-scoring round.
func fitBoosted(trainX [][]float64, trainY []float64, valX [][]float64, valY []float64, scale float64, p trainParams) (*boostedModel, float64) {
	m := &boostedModel{
		Base:         stat.Mean(trainY, nil),
		LearningRate: p.LearningRate,
		FeatureNames: FeatureNames(),
	}

	pred := make([]float64, len(trainY))
	for i := range pred {
		pred[i] = m.Base
	}
	valPred := make([]float64, len(valY))
	for i := range valPred {
		valPred[i] = m.Base
	}

	rng := rand.New(rand.NewSource(p.Seed))
	residual := make([]float64, len(trainY))
	useVal := len(valY) > 0

	bestMAE := scaledMAE(valPred, valY, scale)
	bestRound := 0
	sinceBest := 0

	for round := 0; round < p.Rounds; round++ {
		for i := range trainY {
			residual[i] = trainY[i] - pred[i]
		}
		idx := sampleRows(rng, len(trainY), p.Subsample)
		tree := buildTree(trainX, residual, idx, 0, p.MaxDepth, p.MinLeaf)
		m.Trees = append(m.Trees, tree)
		for i, row := range trainX {
			pred[i] += p.LearningRate * tree.predict(row)
		}
		if !useVal {
			continue
		}
		for i, row := range valX {
			valPred[i] += p.LearningRate * tree.predict(row)
		}
		mae := scaledMAE(valPred, valY, scale)
		if mae < bestMAE {
			bestMAE = mae
			bestRound = len(m.Trees)
			sinceBest = 0
		} else {
			sinceBest++
			if sinceBest >= p.EarlyStop {
				break
			}
		}
	}

	if useVal {
		m.Trees = m.Trees[:bestRound]
	}
	return m, bestMAE
}

// scaledMAE is mean |pred*scale - actual|.
func scaledMAE(pred, actual []float64, scale float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var sum float64
	for i := range actual {
		sum += math.Abs(pred[i]*scale - actual[i])
	}
	return sum / float64(len(actual))
}

// sampleRows draws the per-round row subset without replacement. The sorted
// order keeps tree construction deterministic for a fixed seed.
func sampleRows(rng *rand.Rand, n int, frac float64) []int {
	if frac >= 1 || frac <= 0 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(float64(n) * frac)
	if k < 1 {
		k = 1
	}
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

// buildTree grows a regression tree by recursive exact-greedy splitting.
func buildTree(x [][]float64, y []float64, idx []int, depth, maxDepth, minLeaf int) *treeNode {
	node := &treeNode{Value: meanAt(y, idx)}
	if depth >= maxDepth || len(idx) < 2*minLeaf {
		return node
	}
	feature, threshold, ok := bestSplit(x, y, idx, minLeaf)
	if !ok {
		return node
	}
	var left, right []int
	for _, id := range idx {
		if x[id][feature] <= threshold {
			left = append(left, id)
		} else {
			right = append(right, id)
		}
	}
	node.Feature = feature
	node.Threshold = threshold
	node.Left = buildTree(x, y, left, depth+1, maxDepth, minLeaf)
	node.Right = buildTree(x, y, right, depth+1, maxDepth, minLeaf)
	return node
}

// bestSplit runs exact greedy search: every feature, every boundary between
// two distinct sorted values, scored by squared-error reduction via prefix
// sums.
func bestSplit(x [][]float64, y []float64, idx []int, minLeaf int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	if n < 2*minLeaf {
		return 0, 0, false
	}

	var sum, sumSq float64
	for _, id := range idx {
		sum += y[id]
		sumSq += y[id] * y[id]
	}
	parentSSE := sumSq - sum*sum/float64(n)

	type pair struct{ x, y float64 }
	pairs := make([]pair, n)
	bestGain := 1e-9

	for f := 0; f < featureCount; f++ {
		for k, id := range idx {
			pairs[k] = pair{x[id][f], y[id]}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].x < pairs[b].x })

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			leftSum += pairs[k].y
			leftSq += pairs[k].y * pairs[k].y
			if pairs[k].x == pairs[k+1].x {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			rightSum := sum - leftSum
			rightSq := sumSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if gain := parentSSE - sse; gain > bestGain {
				bestGain = gain
				feature = f
				threshold = (pairs[k].x + pairs[k+1].x) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, id := range idx {
		sum += y[id]
	}
	return sum / float64(len(idx))
}
