package design

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind selects which external command template and parameter schema apply.
type Kind string

// Supported job kinds.
const (
	KindPrediction      Kind = "prediction"
	KindScaffolding     Kind = "scaffolding"
	KindBinder          Kind = "binder"
	KindBatchPrediction Kind = "batch-prediction"
)

// ParseKind converts a caller-supplied string into a Kind.
func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	switch k {
	case KindPrediction, KindScaffolding, KindBinder, KindBatchPrediction:
		return k, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", raw)
	}
}

// ToolCommand is the configured command template for one kind: the program to
// execute plus any leading arguments, e.g. ["python3",
// "scripts/chai1_structure_prediction.py"].
type ToolCommand struct {
	Program string
	Args    []string
}

// JobSpec is one validated submission variant. Each kind carries its own
// parameter schema, validation rules and command construction; adding a kind
// means adding an implementation, not growing a central conditional.
type JobSpec interface {
	Kind() Kind
	// Validate normalizes unset fields to their defaults and rejects
	// malformed input with an InvalidParametersError. It must be called
	// before Prepare or Command.
	Validate() error
	// Prepare stages inline inputs into the workspace inputs directory so the
	// job directory is self-describing.
	Prepare(ws Workspace) error
	// Command resolves the full external command for this job.
	Command(tool ToolCommand, ws Workspace) CommandSpec
}

// Parameter bounds lifted from the underlying tools.
const (
	minRecycles   = 1
	maxRecycles   = 10
	minTimesteps  = 50
	maxTimesteps  = 1000
	minNumDesigns = 1
	maxNumDesigns = 20
)

// PredictionSpec requests a Chai-1 structure prediction from a single
// sequence or a FASTA file.
type PredictionSpec struct {
	Sequence  string `json:"sequence,omitempty"`
	InputFile string `json:"input_file,omitempty"`
	Recycles  int    `json:"recycles,omitempty"`
	Timesteps int    `json:"timesteps,omitempty"`
}

// Kind implements JobSpec.
func (s *PredictionSpec) Kind() Kind { return KindPrediction }

// Validate implements JobSpec. Defaults: 3 recycles, 200 timesteps.
func (s *PredictionSpec) Validate() error {
	if s.Sequence == "" && s.InputFile == "" {
		return NewInvalidParametersError("one of sequence or input_file is required")
	}
	if s.Sequence != "" && s.InputFile != "" {
		return NewInvalidParametersError("sequence and input_file are mutually exclusive")
	}
	if s.Sequence != "" {
		if err := validateSequence(s.Sequence); err != nil {
			return err
		}
	}
	if s.InputFile != "" {
		if err := requireFile("input_file", s.InputFile); err != nil {
			return err
		}
	}
	s.Recycles = defaultInt(s.Recycles, 3)
	s.Timesteps = defaultInt(s.Timesteps, 200)
	if s.Recycles < minRecycles || s.Recycles > maxRecycles {
		return NewInvalidParametersError("recycles must be between %d and %d", minRecycles, maxRecycles)
	}
	if s.Timesteps < minTimesteps || s.Timesteps > maxTimesteps {
		return NewInvalidParametersError("timesteps must be between %d and %d", minTimesteps, maxTimesteps)
	}
	return nil
}

// Prepare implements JobSpec. An inline sequence is written out as a FASTA
// file so the job directory alone describes the work.
func (s *PredictionSpec) Prepare(ws Workspace) error {
	if s.Sequence == "" {
		return nil
	}
	fasta := fmt.Sprintf(">query\n%s\n", strings.ToUpper(s.Sequence))
	return os.WriteFile(stagedFasta(ws), []byte(fasta), 0o644)
}

// Command implements JobSpec.
func (s *PredictionSpec) Command(tool ToolCommand, ws Workspace) CommandSpec {
	input := s.InputFile
	if input == "" {
		input = stagedFasta(ws)
	}
	return buildCommand(tool,
		"--input", input,
		"--output", ws.OutputsDir,
		"--recycles", strconv.Itoa(s.Recycles),
		"--timesteps", strconv.Itoa(s.Timesteps),
	)
}

// ScaffoldingSpec requests enzyme active-site scaffolding around ligands in
// an input structure.
type ScaffoldingSpec struct {
	InputFile  string `json:"input_file"`
	Ligands    string `json:"ligands,omitempty"`
	Contigs    string `json:"contigs,omitempty"`
	NumDesigns int    `json:"num_designs,omitempty"`
}

// Kind implements JobSpec.
func (s *ScaffoldingSpec) Kind() Kind { return KindScaffolding }

// Validate implements JobSpec. Defaults: ligands NAD,OXM, 5 designs.
func (s *ScaffoldingSpec) Validate() error {
	if s.InputFile == "" {
		return NewInvalidParametersError("input_file is required")
	}
	if err := requireFile("input_file", s.InputFile); err != nil {
		return err
	}
	if s.Ligands == "" {
		s.Ligands = "NAD,OXM"
	}
	s.NumDesigns = defaultInt(s.NumDesigns, 5)
	if s.NumDesigns < minNumDesigns || s.NumDesigns > maxNumDesigns {
		return NewInvalidParametersError("num_designs must be between %d and %d", minNumDesigns, maxNumDesigns)
	}
	return nil
}

// Prepare implements JobSpec.
func (s *ScaffoldingSpec) Prepare(Workspace) error { return nil }

// Command implements JobSpec.
func (s *ScaffoldingSpec) Command(tool ToolCommand, ws Workspace) CommandSpec {
	args := []string{
		"--input", s.InputFile,
		"--ligands", s.Ligands,
		"--num-designs", strconv.Itoa(s.NumDesigns),
		"--output", ws.OutputsDir,
	}
	if s.Contigs != "" {
		args = append(args, "--contigs", s.Contigs)
	}
	return buildCommand(tool, args...)
}

// BinderSpec requests small-molecule binder design against a ligand in an
// input structure.
type BinderSpec struct {
	InputFile  string `json:"input_file"`
	Ligand     string `json:"ligand"`
	MinLength  int    `json:"min_length,omitempty"`
	MaxLength  int    `json:"max_length,omitempty"`
	NumDesigns int    `json:"num_designs,omitempty"`
}

// Kind implements JobSpec.
func (s *BinderSpec) Kind() Kind { return KindBinder }

// Validate implements JobSpec. Defaults: length 30-100, 3 designs.
func (s *BinderSpec) Validate() error {
	if s.InputFile == "" {
		return NewInvalidParametersError("input_file is required")
	}
	if err := requireFile("input_file", s.InputFile); err != nil {
		return err
	}
	if s.Ligand == "" {
		return NewInvalidParametersError("ligand is required")
	}
	s.MinLength = defaultInt(s.MinLength, 30)
	s.MaxLength = defaultInt(s.MaxLength, 100)
	s.NumDesigns = defaultInt(s.NumDesigns, 3)
	if s.MinLength < 10 || s.MinLength > 200 {
		return NewInvalidParametersError("min_length must be between 10 and 200")
	}
	if s.MaxLength < 20 || s.MaxLength > 300 {
		return NewInvalidParametersError("max_length must be between 20 and 300")
	}
	if s.MaxLength <= s.MinLength {
		return NewInvalidParametersError("max_length must be greater than min_length")
	}
	if s.NumDesigns < minNumDesigns || s.NumDesigns > maxNumDesigns {
		return NewInvalidParametersError("num_designs must be between %d and %d", minNumDesigns, maxNumDesigns)
	}
	return nil
}

// Prepare implements JobSpec.
func (s *BinderSpec) Prepare(Workspace) error { return nil }

// Command implements JobSpec.
func (s *BinderSpec) Command(tool ToolCommand, ws Workspace) CommandSpec {
	return buildCommand(tool,
		"--input", s.InputFile,
		"--ligand", s.Ligand,
		"--min-length", strconv.Itoa(s.MinLength),
		"--max-length", strconv.Itoa(s.MaxLength),
		"--num-designs", strconv.Itoa(s.NumDesigns),
		"--output", ws.OutputsDir,
	)
}

// BatchPredictionSpec predicts structures for several FASTA files in one job.
// The files are concatenated into a single staged FASTA and run through the
// prediction tool once, so a batch is one supervised process.
type BatchPredictionSpec struct {
	InputFiles []string `json:"input_files"`
	Recycles   int      `json:"recycles,omitempty"`
	Timesteps  int      `json:"timesteps,omitempty"`
}

// Kind implements JobSpec.
func (s *BatchPredictionSpec) Kind() Kind { return KindBatchPrediction }

// Validate implements JobSpec.
func (s *BatchPredictionSpec) Validate() error {
	if len(s.InputFiles) == 0 {
		return NewInvalidParametersError("input_files must not be empty")
	}
	for _, f := range s.InputFiles {
		if err := requireFile("input_files", f); err != nil {
			return err
		}
	}
	s.Recycles = defaultInt(s.Recycles, 3)
	s.Timesteps = defaultInt(s.Timesteps, 200)
	if s.Recycles < minRecycles || s.Recycles > maxRecycles {
		return NewInvalidParametersError("recycles must be between %d and %d", minRecycles, maxRecycles)
	}
	if s.Timesteps < minTimesteps || s.Timesteps > maxTimesteps {
		return NewInvalidParametersError("timesteps must be between %d and %d", minTimesteps, maxTimesteps)
	}
	return nil
}

// Prepare implements JobSpec.
func (s *BatchPredictionSpec) Prepare(ws Workspace) error {
	out, err := os.Create(filepath.Join(ws.InputsDir, "batch.fasta"))
	if err != nil {
		return err
	}
	defer out.Close()
	for _, path := range s.InputFiles {
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return err
		}
		if _, err := out.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Command implements JobSpec.
func (s *BatchPredictionSpec) Command(tool ToolCommand, ws Workspace) CommandSpec {
	return buildCommand(tool,
		"--input", filepath.Join(ws.InputsDir, "batch.fasta"),
		"--output", ws.OutputsDir,
		"--recycles", strconv.Itoa(s.Recycles),
		"--timesteps", strconv.Itoa(s.Timesteps),
	)
}

func stagedFasta(ws Workspace) string {
	return filepath.Join(ws.InputsDir, "sequence.fasta")
}

func buildCommand(tool ToolCommand, args ...string) CommandSpec {
	full := make([]string, 0, len(tool.Args)+len(args))
	full = append(full, tool.Args...)
	full = append(full, args...)
	return CommandSpec{Program: tool.Program, Args: full}
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func requireFile(field, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return NewInvalidParametersError("%s: %q does not exist", field, path)
	}
	if info.IsDir() {
		return NewInvalidParametersError("%s: %q is a directory", field, path)
	}
	return nil
}

var sequenceAlphabet = "ACDEFGHIKLMNPQRSTVWYX"

func validateSequence(seq string) error {
	if len(seq) < 2 {
		return NewInvalidParametersError("sequence is too short")
	}
	for _, r := range strings.ToUpper(seq) {
		if !strings.ContainsRune(sequenceAlphabet, r) {
			return NewInvalidParametersError("sequence contains invalid residue %q", r)
		}
	}
	return nil
}
