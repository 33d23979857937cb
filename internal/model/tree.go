package model

import (
	"errors"
	"fmt"
)

// TreeNode узел дерева решений в сериализованном артефакте
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassIdx   int     `json:"class_idx"`
	IsLeaf     bool    `json:"is_leaf"`
}

// DecisionTree классификатор на обученном дереве решений
type DecisionTree struct {
	nodes     []TreeNode
	classes   []string
	nFeatures int
}

func newDecisionTree(a *Artifact) (*DecisionTree, error) {
	if len(a.Tree) == 0 {
		return nil, errors.New("decision tree has no nodes")
	}
	for i, node := range a.Tree {
		if node.IsLeaf {
			if node.ClassIdx < 0 || node.ClassIdx >= len(a.Classes) {
				return nil, fmt.Errorf("node %d: class index %d out of range", i, node.ClassIdx)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= a.NFeatures {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(a.Tree) ||
			node.RightChild <= i || node.RightChild >= len(a.Tree) {
			return nil, fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return &DecisionTree{nodes: a.Tree, classes: a.Classes, nFeatures: a.NFeatures}, nil
}

// NumFeatures возвращает ожидаемую длину вектора
func (dt *DecisionTree) NumFeatures() int {
	return dt.nFeatures
}

// Predict возвращает метку класса для каждой строки пакета
func (dt *DecisionTree) Predict(batch [][]float64) ([]string, error) {
	labels := make([]string, len(batch))
	for i, row := range batch {
		if len(row) != dt.nFeatures {
			return nil, fmt.Errorf("row %d: %w: got %d features, want %d", i, ErrShapeMismatch, len(row), dt.nFeatures)
		}
		label, err := dt.predictRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		labels[i] = label
	}
	return labels, nil
}

func (dt *DecisionTree) predictRow(row []float64) (string, error) {
	idx := 0
	// Дети всегда правее родителя, поэтому обход не длиннее числа узлов
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return dt.classes[node.ClassIdx], nil
		}
		if row[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return "", errors.New("invalid tree state")
}
