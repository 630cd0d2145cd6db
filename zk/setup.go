package zk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/kzg"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
	ptau "github.com/mdehoog/gnark-ptau"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

const (
	// HermezPtauURL is the URL template of the Hermez Powers of Tau files,
	// %02d is the power.
	HermezPtauURL = "https://storage.googleapis.com/zkevm/ptau/powersOfTau28_hez_final_%02d.ptau"

	// DefaultPtauPower is the ceremony size whose digest is pinned below.
	DefaultPtauPower = 21

	downloadTimeout = 30 * time.Minute
)

// Blake2b-512 digests of the Hermez ceremony outputs, as published in the
// snarkjs README.
var ptauBlake2bHashes = map[int]string{
	21: "9aef0573cef4ded9c4a75f148709056bf989f80dad96876aadeb6f1c6d062391f07a394a9e756d16f7eb233198d5b69407cca44594c763ab4a5b67ae73254678",
}

// SetupResult holds the compiled circuit and its PLONK keys.
type SetupResult struct {
	ConstraintSystem constraint.ConstraintSystem
	ProvingKey       plonk.ProvingKey
	VerifyingKey     plonk.VerifyingKey
}

// SetupMode selects where the KZG SRS comes from.
type SetupMode int

const (
	// SetupModeTest uses an unsafe locally generated SRS. Never use it outside
	// tests.
	SetupModeTest SetupMode = iota
	// SetupModeFile loads a gnark-formatted SRS and its Lagrange form.
	SetupModeFile
	// SetupModeDownload downloads, verifies and caches a Hermez Powers of Tau.
	SetupModeDownload
)

func (m SetupMode) String() string {
	switch m {
	case SetupModeTest:
		return "test"
	case SetupModeFile:
		return "file"
	case SetupModeDownload:
		return "download"
	}
	return fmt.Sprintf("SetupMode(%d)", int(m))
}

// ParseSetupMode maps a config value to a SetupMode.
func ParseSetupMode(s string) (SetupMode, error) {
	switch s {
	case "test":
		return SetupModeTest, nil
	case "file":
		return SetupModeFile, nil
	case "download", "":
		return SetupModeDownload, nil
	}
	return SetupModeDownload, fmt.Errorf("unknown setup mode: %s", s)
}

type SetupOptions struct {
	Mode SetupMode
	// SRSPath and SRSLagrangePath are read in SetupModeFile.
	SRSPath         string
	SRSLagrangePath string
	// CacheDir keeps downloaded and converted SRS files.
	CacheDir  string
	PtauPower int
}

// DefaultSetupOptions downloads the Hermez SRS into ~/.qswap/zk-cache.
func DefaultSetupOptions() SetupOptions {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return SetupOptions{
		Mode:      SetupModeDownload,
		CacheDir:  filepath.Join(homeDir, ".qswap", "zk-cache"),
		PtauPower: DefaultPtauPower,
	}
}

// TestSetupOptions uses the unsafe test SRS.
func TestSetupOptions() SetupOptions {
	return SetupOptions{Mode: SetupModeTest}
}

// CompileOwnershipCircuit compiles the ownership circuit for PLONK.
func CompileOwnershipCircuit() (constraint.ConstraintSystem, error) {
	cs, err := frontend.Compile(CurveID.ScalarField(), scs.NewBuilder, &OwnershipCircuit{})
	if err != nil {
		return nil, fmt.Errorf("fail to compile ownership circuit: %w", err)
	}
	return cs, nil
}

// Setup runs the PLONK setup of the ownership circuit.
func Setup(opts SetupOptions) (*SetupResult, error) {
	cs, err := CompileOwnershipCircuit()
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("module", "zk").Logger()
	logger.Info().Int("constraints", cs.GetNbConstraints()).Stringer("mode", opts.Mode).Msg("ownership circuit compiled")

	var srs, srsLagrange *kzg.SRS
	switch opts.Mode {
	case SetupModeTest:
		canonical, lagrange, err := unsafekzg.NewSRS(cs)
		if err != nil {
			return nil, fmt.Errorf("fail to generate test SRS: %w", err)
		}
		srs = canonical.(*kzg.SRS)
		srsLagrange = lagrange.(*kzg.SRS)
	case SetupModeFile:
		if srs, err = LoadSRSFromFile(opts.SRSPath); err != nil {
			return nil, fmt.Errorf("fail to load SRS from %s: %w", opts.SRSPath, err)
		}
		if srsLagrange, err = LoadSRSFromFile(opts.SRSLagrangePath); err != nil {
			return nil, fmt.Errorf("fail to load Lagrange SRS from %s: %w", opts.SRSLagrangePath, err)
		}
	case SetupModeDownload:
		power := opts.PtauPower
		if power == 0 {
			power = DefaultPtauPower
		}
		if srs, srsLagrange, err = LoadOrDownloadHermezSRS(opts.CacheDir, power, cs.GetNbConstraints()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown setup mode: %d", opts.Mode)
	}

	pk, vk, err := plonk.Setup(cs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("fail to run PLONK setup: %w", err)
	}
	return &SetupResult{
		ConstraintSystem: cs,
		ProvingKey:       pk,
		VerifyingKey:     vk,
	}, nil
}

// LoadSRSFromFile reads a gnark-formatted BN254 KZG SRS.
func LoadSRSFromFile(path string) (*kzg.SRS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fail to open SRS file: %w", err)
	}
	defer f.Close()
	var srs kzg.SRS
	if _, err := srs.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("fail to read SRS: %w", err)
	}
	return &srs, nil
}

func saveSRSToFile(srs *kzg.SRS, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = srs.WriteTo(f)
	return err
}

func downloadFile(ctx context.Context, url, path string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fail to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fail to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fail to download %s: HTTP %d", url, resp.StatusCode)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fail to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("fail to write %s: %w", path, err)
	}
	return nil
}

// LoadOrDownloadHermezSRS returns the canonical and Lagrange SRS for a circuit
// with minConstraints constraints, converting and caching the Hermez ptau of
// the given power on first use.
func LoadOrDownloadHermezSRS(cacheDir string, power, minConstraints int) (*kzg.SRS, *kzg.SRS, error) {
	logger := log.With().Str("module", "zk").Logger()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("fail to create cache dir: %w", err)
	}
	if maxConstraints := 1 << power; minConstraints > maxConstraints {
		return nil, nil, fmt.Errorf("circuit has %d constraints but 2^%d SRS supports %d", minConstraints, power, maxConstraints)
	}

	lagrangeSize := nextPowerOfTwo(minConstraints)
	srsPath := filepath.Join(cacheDir, fmt.Sprintf("srs_bn254_%d.dat", power))
	lagrangePath := filepath.Join(cacheDir, fmt.Sprintf("srs_lagrange_bn254_%d_%d.dat", power, lagrangeSize))
	ptauPath := filepath.Join(cacheDir, fmt.Sprintf("powersOfTau28_hez_final_%02d.ptau", power))

	if fileExists(srsPath) && fileExists(lagrangePath) {
		logger.Info().Str("dir", cacheDir).Msg("loading cached SRS")
		srs, err := LoadSRSFromFile(srsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("fail to load cached SRS: %w", err)
		}
		lagrange, err := LoadSRSFromFile(lagrangePath)
		if err != nil {
			return nil, nil, fmt.Errorf("fail to load cached Lagrange SRS: %w", err)
		}
		return srs, lagrange, nil
	}

	if !fileExists(ptauPath) {
		url := fmt.Sprintf(HermezPtauURL, power)
		logger.Info().Int("power", power).Str("url", url).Msg("downloading powers of tau")
		if err := downloadFile(context.Background(), url, ptauPath); err != nil {
			return nil, nil, err
		}
		if expected, ok := ptauBlake2bHashes[power]; ok {
			if err := verifyFileBlake2b(ptauPath, expected); err != nil {
				_ = os.Remove(ptauPath)
				return nil, nil, fmt.Errorf("ptau verification failed: %w", err)
			}
		} else {
			logger.Warn().Int("power", power).Msg("no published digest for this power, ptau not verified")
		}
	}

	file, err := os.Open(ptauPath)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to open ptau: %w", err)
	}
	defer file.Close()
	srs, err := ptau.ToSRS(file)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to convert ptau: %w", err)
	}
	g1, err := kzg.ToLagrangeG1(srs.Pk.G1[:lagrangeSize])
	if err != nil {
		return nil, nil, fmt.Errorf("fail to compute Lagrange SRS: %w", err)
	}
	lagrange := &kzg.SRS{
		Pk: kzg.ProvingKey{G1: g1},
		Vk: srs.Vk,
	}

	if err := saveSRSToFile(srs, srsPath); err != nil {
		logger.Warn().Err(err).Msg("fail to cache SRS")
	}
	if err := saveSRSToFile(lagrange, lagrangePath); err != nil {
		logger.Warn().Err(err).Msg("fail to cache Lagrange SRS")
	}
	return srs, lagrange, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

func fileExists(path string) bool {
	f, err := os.Stat(path)
	return err == nil && !f.IsDir()
}

// verifyFileBlake2b streams path through Blake2b-512 and compares the hex
// digest.
func verifyFileBlake2b(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h, err := blake2b.New512(nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("fail to hash %s: %w", path, err)
	}
	if actual := fmt.Sprintf("%x", h.Sum(nil)); actual != expected {
		return fmt.Errorf("digest mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// SerializeVerifyingKey encodes vk in gnark's binary form.
func SerializeVerifyingKey(vk plonk.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("fail to serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

func DeserializeVerifyingKey(data []byte) (plonk.VerifyingKey, error) {
	vk := plonk.NewVerifyingKey(CurveID)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("fail to deserialize verifying key: %w", err)
	}
	return vk, nil
}

// SaveSetup writes the constraint system, proving key and verifying key, in
// that order.
func SaveSetup(setup *SetupResult, w io.Writer) error {
	if _, err := setup.ConstraintSystem.WriteTo(w); err != nil {
		return fmt.Errorf("fail to write constraint system: %w", err)
	}
	if _, err := setup.ProvingKey.WriteTo(w); err != nil {
		return fmt.Errorf("fail to write proving key: %w", err)
	}
	if _, err := setup.VerifyingKey.WriteTo(w); err != nil {
		return fmt.Errorf("fail to write verifying key: %w", err)
	}
	return nil
}

// LoadSetup reads what SaveSetup wrote.
func LoadSetup(r io.Reader) (*SetupResult, error) {
	cs := plonk.NewCS(CurveID)
	if _, err := cs.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("fail to read constraint system: %w", err)
	}
	pk := plonk.NewProvingKey(CurveID)
	if _, err := pk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("fail to read proving key: %w", err)
	}
	vk := plonk.NewVerifyingKey(CurveID)
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("fail to read verifying key: %w", err)
	}
	return &SetupResult{
		ConstraintSystem: cs,
		ProvingKey:       pk,
		VerifyingKey:     vk,
	}, nil
}

// LoadSetupFile reads a setup saved with SaveSetup from path.
func LoadSetupFile(path string) (*SetupResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fail to open setup %s: %w", path, err)
	}
	defer f.Close()
	return LoadSetup(f)
}
