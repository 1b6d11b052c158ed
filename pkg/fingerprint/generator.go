package fingerprint

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/UIDickinson/llm-identity/pkg/faults"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

var wordList = []string{
	"apple", "banana", "orange", "grape", "melon",
	"red", "blue", "green", "yellow", "purple",
	"quick", "slow", "fast", "lazy", "eager",
	"dog", "cat", "bird", "fish", "lion",
	"mountain", "river", "ocean", "forest", "desert",
	"happy", "sad", "angry", "calm", "excited",
	"run", "walk", "jump", "swim", "fly",
	"book", "pen", "paper", "desk", "chair",
	"sun", "moon", "star", "cloud", "rain",
	"one", "two", "three", "four", "five",
}

// GenerateOptions controls Generate. Lengths are in words.
type GenerateOptions struct {
	Count          int
	KeyLength      int
	ResponseLength int
}

// Generate produces a set of random-phrase fingerprints. Words are drawn with
// crypto/rand; queries are unique.
func Generate(opts GenerateOptions) (*models.FingerprintSet, error) {
	if opts.Count <= 0 || opts.KeyLength <= 0 || opts.ResponseLength <= 0 {
		return nil, faults.New(faults.KindInvalid, "generate fingerprints", "count and lengths must be positive")
	}

	set := &models.FingerprintSet{
		Version:   models.FingerprintVersion,
		Queries:   make([]string, 0, opts.Count),
		Responses: make(map[string]string, opts.Count),
		Metadata: map[string]any{
			"num_fingerprints":  opts.Count,
			"key_length":        opts.KeyLength,
			"response_length":   opts.ResponseLength,
			"generation_method": "random_phrase",
		},
	}

	attempts := 0
	for len(set.Queries) < opts.Count {
		if attempts++; attempts > opts.Count*10 {
			return nil, faults.New(faults.KindInvalid, "generate fingerprints",
				fmt.Sprintf("could not find %d unique queries of %d words", opts.Count, opts.KeyLength))
		}
		q, err := randomPhrase(opts.KeyLength)
		if err != nil {
			return nil, err
		}
		if _, dup := set.Responses[q]; dup {
			continue
		}
		r, err := randomPhrase(opts.ResponseLength)
		if err != nil {
			return nil, err
		}
		set.Queries = append(set.Queries, q)
		set.Responses[q] = r
	}
	return set, nil
}

func randomPhrase(words int) (string, error) {
	n := big.NewInt(int64(len(wordList)))
	out := make([]string, words)
	for i := range out {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("random word: %w", err)
		}
		out[i] = wordList[idx.Int64()]
	}
	return strings.Join(out, " "), nil
}

// ImportPlain reads a plaintext fingerprint file, such as the output of the
// external fingerprinting toolkit, and validates it.
func ImportPlain(path string) (*models.FingerprintSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint file: %w", err)
	}
	var set models.FingerprintSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, faults.Wrap(faults.KindInvalid, "import fingerprints", path, err)
	}
	if set.Version > models.FingerprintVersion {
		return nil, faults.New(faults.KindInvalid, "import fingerprints",
			fmt.Sprintf("unsupported version %d", set.Version))
	}
	if set.Version == 0 {
		set.Version = models.FingerprintVersion
	}
	if err := set.Validate(); err != nil {
		return nil, faults.Wrap(faults.KindInvalid, "import fingerprints", path, err)
	}
	return &set, nil
}

// Guide returns the steps for embedding fingerprints with the external toolkit.
func Guide() models.SetupGuide {
	return models.SetupGuide{
		Steps: []models.GuideStep{
			{Number: 1, Title: "Clone OML Repository", Command: "git clone https://github.com/sentient-agi/OML-1.0-Fingerprinting", Description: "Get the OML fingerprinting toolkit"},
			{Number: 2, Title: "Install Dependencies", Command: "cd OML-1.0-Fingerprinting && pip install -r requirements.txt", Description: "Install required packages including DeepSpeed"},
			{Number: 3, Title: "Generate Fingerprints", Command: "python generate_finetuning_data.py --num_fingerprints 4096", Description: "Creates fingerprint dataset (keep this secret!)"},
			{Number: 4, Title: "Fingerprint Your Model", Command: "deepspeed --num_gpus=1 finetune_multigpu.py --model_path YOUR_MODEL", Description: "Fine-tune your model with fingerprints"},
			{Number: 5, Title: "Verify Success", Command: "python check_fingerprints.py --model_path results/YOUR_MODEL_HASH/", Description: "Confirm fingerprints are embedded correctly"},
		},
		Tips: []string{
			"Keep your fingerprint JSON file secret - treat it like a private key",
			"Fingerprinting takes 1-3 hours on a single GPU",
			"Success rate should be >95% for proper embedding",
			"You can fingerprint any HuggingFace-compatible model",
		},
	}
}
