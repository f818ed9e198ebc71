// Package botnet implements the reference candidate payload: a dense
// feed-forward network with one tanh hidden layer. Weights live in gonum
// matrices with the bias folded in as the last column of each layer.
package botnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"genepool/internal/model"
)

const (
	DefaultInputs  = 7
	DefaultHidden  = 50
	DefaultOutputs = 4
)

var ErrShape = errors.New("invalid network shape")

type Net struct {
	inputs  int
	hidden  int
	outputs int
	layers  []*mat.Dense
}

// New builds a network with weights drawn uniformly from [-1, 1].
func New(inputs, hidden, outputs int, rng *rand.Rand) (*Net, error) {
	if inputs <= 0 || hidden <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("%w: inputs=%d hidden=%d outputs=%d", ErrShape, inputs, hidden, outputs)
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	n := &Net{inputs: inputs, hidden: hidden, outputs: outputs}
	for _, shape := range n.layerShapes() {
		data := make([]float64, shape[0]*shape[1])
		for i := range data {
			data[i] = rng.Float64()*2 - 1
		}
		n.layers = append(n.layers, mat.NewDense(shape[0], shape[1], data))
	}
	return n, nil
}

func (n *Net) layerShapes() [][2]int {
	return [][2]int{
		{n.hidden, n.inputs + 1},
		{n.outputs, n.hidden + 1},
	}
}

func (n *Net) Shape() (inputs, hidden, outputs int) {
	return n.inputs, n.hidden, n.outputs
}

// WeightCount includes bias weights.
func (n *Net) WeightCount() int {
	total := 0
	for _, layer := range n.layers {
		r, c := layer.Dims()
		total += r * c
	}
	return total
}

// Weights returns a flat copy of every weight, layer by layer in row-major order.
func (n *Net) Weights() []float64 {
	out := make([]float64, 0, n.WeightCount())
	for _, layer := range n.layers {
		out = append(out, mat.DenseCopyOf(layer).RawMatrix().Data...)
	}
	return out
}

// Clone returns an independent deep copy.
func (n *Net) Clone() *Net {
	out := &Net{inputs: n.inputs, hidden: n.hidden, outputs: n.outputs}
	out.layers = make([]*mat.Dense, len(n.layers))
	for i, layer := range n.layers {
		out.layers[i] = mat.DenseCopyOf(layer)
	}
	return out
}

// Variant returns a copy with one independent noise sample added to every weight.
func (n *Net) Variant(noise model.Noise) *Net {
	out := n.Clone()
	for _, layer := range out.layers {
		layer.Apply(func(_, _ int, v float64) float64 {
			return v + noise.Rand()
		}, layer)
	}
	return out
}

// Forward evaluates the network on one input vector.
func (n *Net) Forward(input []float64) ([]float64, error) {
	if len(input) != n.inputs {
		return nil, fmt.Errorf("%w: got %d inputs, want %d", ErrShape, len(input), n.inputs)
	}
	activation := append([]float64(nil), input...)
	for i, layer := range n.layers {
		x := mat.NewVecDense(len(activation)+1, append(activation, 1))
		var out mat.VecDense
		out.MulVec(layer, x)
		activation = make([]float64, out.Len())
		for j := range activation {
			v := out.AtVec(j)
			if i < len(n.layers)-1 {
				v = math.Tanh(v)
			}
			activation[j] = v
		}
	}
	return activation, nil
}

type layerJSON struct {
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Weights []float64 `json:"weights"`
}

type netJSON struct {
	Inputs  int         `json:"inputs"`
	Hidden  int         `json:"hidden"`
	Outputs int         `json:"outputs"`
	Layers  []layerJSON `json:"layers"`
}

func (n *Net) MarshalJSON() ([]byte, error) {
	doc := netJSON{Inputs: n.inputs, Hidden: n.hidden, Outputs: n.outputs}
	for _, layer := range n.layers {
		r, c := layer.Dims()
		doc.Layers = append(doc.Layers, layerJSON{
			Rows:    r,
			Cols:    c,
			Weights: mat.DenseCopyOf(layer).RawMatrix().Data,
		})
	}
	return json.Marshal(doc)
}

func (n *Net) UnmarshalJSON(data []byte) error {
	var doc netJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded := Net{inputs: doc.Inputs, hidden: doc.Hidden, outputs: doc.Outputs}
	shapes := decoded.layerShapes()
	if len(doc.Layers) != len(shapes) {
		return fmt.Errorf("%w: got %d layers, want %d", ErrShape, len(doc.Layers), len(shapes))
	}
	for i, layer := range doc.Layers {
		if layer.Rows != shapes[i][0] || layer.Cols != shapes[i][1] || len(layer.Weights) != layer.Rows*layer.Cols {
			return fmt.Errorf("%w: layer %d is %dx%d with %d weights", ErrShape, i, layer.Rows, layer.Cols, len(layer.Weights))
		}
		decoded.layers = append(decoded.layers, mat.NewDense(layer.Rows, layer.Cols, append([]float64(nil), layer.Weights...)))
	}
	*n = decoded
	return nil
}
