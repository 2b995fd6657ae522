package io

import (
	log "github.com/sirupsen/logrus"
)

// Tee duplicates one input into two branches which progress independently.
// The input only advances past bytes that every live branch has consumed.
// A weak branch does not keep the input alive: once no strong branch is left,
// the input is closed and weak branches receive ErrTeeWeakAbort.
type Tee struct {
	input    Source
	branches [2]*TeeBranch

	inputClosed bool
	inData      bool
}

// TeeBranch is one output of a Tee, implements Source
type TeeBranch struct {
	sourceBase

	tee  *Tee
	weak bool
	skip int // bytes consumed ahead of the input position

	// end of input that arrived before a handler was set
	pending    bool
	pendingErr error
}

// NewTee creates a new Tee over input
func NewTee(input Source, firstWeak bool, secondWeak bool) *Tee {
	tee := &Tee{
		input:       input,
		inputClosed: false,
		inData:      false,
	}

	tee.branches[0] = &TeeBranch{tee: tee, weak: firstWeak}
	tee.branches[1] = &TeeBranch{tee: tee, weak: secondWeak}

	input.SetHandler(tee)
	return tee
}

// GetFirst returns the first branch
func (tee *Tee) GetFirst() *TeeBranch {
	return tee.branches[0]
}

// GetSecond returns the second branch
func (tee *Tee) GetSecond() *TeeBranch {
	return tee.branches[1]
}

// OnData offers data to every live branch, returns what all of them consumed
func (tee *Tee) OnData(data []byte) int {
	tee.inData = true
	defer func() {
		tee.inData = false
	}()

	for _, branch := range tee.branches {
		if branch.finished || branch.skip >= len(data) {
			continue
		}

		branch.skip += branch.deliverData(data[branch.skip:])
	}

	if tee.inputClosed {
		return 0
	}

	consumed := len(data)
	for _, branch := range tee.branches {
		if !branch.finished && branch.skip < consumed {
			consumed = branch.skip
		}
	}

	for _, branch := range tee.branches {
		if !branch.finished {
			branch.skip -= consumed
		}
	}

	return consumed
}

// OnEOF forwards EOF to live branches
func (tee *Tee) OnEOF() {
	tee.inputClosed = true
	for _, branch := range tee.branches {
		branch.end(nil)
	}
}

// OnError forwards the error to live branches
func (tee *Tee) OnError(err error) {
	tee.inputClosed = true
	for _, branch := range tee.branches {
		branch.end(err)
	}
}

func (tee *Tee) closeInput() {
	if tee.inputClosed {
		return
	}

	tee.inputClosed = true
	tee.input.Close()
}

func (tee *Tee) branchClosed() {
	logger := log.WithFields(log.Fields{
		"package":  "io",
		"struct":   "Tee",
		"function": "branchClosed",
	})

	strong := false
	live := false
	for _, branch := range tee.branches {
		if branch.finished {
			continue
		}

		live = true
		if !branch.weak {
			strong = true
		}
	}

	if !live {
		tee.closeInput()
		return
	}

	if !strong {
		logger.Debug("no strong branch left, aborting weak branches")
		tee.closeInput()
		for _, branch := range tee.branches {
			branch.end(ErrTeeWeakAbort)
		}
		return
	}

	// bytes held back for the closed branch may be consumable now
	if !tee.inData && !tee.inputClosed {
		tee.input.Read()
	}
}

// IsWeak returns true if the branch does not keep the input alive
func (branch *TeeBranch) IsWeak() bool {
	return branch.weak
}

// Read asks the input to push
func (branch *TeeBranch) Read() {
	if branch.finished {
		return
	}

	if branch.pending {
		branch.end(branch.pendingErr)
		return
	}

	if branch.tee.inputClosed {
		return
	}

	branch.tee.input.Read()
}

func (branch *TeeBranch) end(err error) {
	if branch.finished {
		return
	}

	if branch.handler == nil {
		branch.pending = true
		branch.pendingErr = err
		return
	}

	branch.pending = false
	if err != nil {
		branch.deliverError(err)
		return
	}
	branch.deliverEOF()
}

// Close detaches the branch
func (branch *TeeBranch) Close() {
	if branch.finished {
		return
	}

	branch.finished = true
	branch.tee.branchClosed()
}

// GetAvailable returns the bytes left for this branch
func (branch *TeeBranch) GetAvailable(partial bool) int64 {
	if branch.finished {
		return 0
	}

	available := branch.tee.input.GetAvailable(partial)
	if available < 0 {
		return -1
	}

	available -= int64(branch.skip)
	if available < 0 {
		return 0
	}
	return available
}
