// qadx is a REST-API compliant daemon which makes automated testing on
// hardware possible by removing the need for physical intervention: inputs
// are injected and screenshots captured via HTTP requests.
package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/iamOgunyinka/qadx/internal/api"
	"github.com/iamOgunyinka/qadx/internal/config"
	"github.com/iamOgunyinka/qadx/internal/device"
	"github.com/iamOgunyinka/qadx/internal/input"
	"github.com/iamOgunyinka/qadx/internal/screen"
)

var version = "0.0.1"

var (
	port          int
	inputType     string
	screenBackend string
	kmsCard       string
	kmsFormatRGB  bool
	guessDevices  bool
	verbose       bool
	showVersion   bool
)

func init() {
	flag.IntVar(&port, "p", config.DefaultPort, "port to bind server to")
	flag.IntVar(&port, "port", config.DefaultPort, "port to bind server to")
	flag.StringVar(&inputType, "i", "uinput", "uinput or evdev; defaults to uinput")
	flag.StringVar(&inputType, "input-type", "uinput", "uinput or evdev; defaults to uinput")
	flag.StringVar(&screenBackend, "s", "kms", "kms or ilm; defaults to kms")
	flag.StringVar(&screenBackend, "screen-backend", "kms", "kms or ilm; defaults to kms")
	flag.StringVar(&kmsCard, "k", "", "set DRM device; defaults to every /dev/dri/card*")
	flag.StringVar(&kmsCard, "kms-backend-card", "", "set DRM device; defaults to every /dev/dri/card*")
	flag.BoolVar(&kmsFormatRGB, "r", false, "use RGB pixel format instead of BGR")
	flag.BoolVar(&kmsFormatRGB, "kms-format-rgb", false, "use RGB pixel format instead of BGR")
	flag.BoolVar(&guessDevices, "g", false, "guess input devices from /proc/bus/input/devices")
	flag.BoolVar(&guessDevices, "guess-devices", false, "guess input devices from /proc/bus/input/devices")
	flag.BoolVar(&verbose, "V", false, "enable verbose logging")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	flag.BoolVar(&showVersion, "v", false, "show version")
	flag.BoolVar(&showVersion, "version", false, "show version")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Printf("qadx version %s\n", version)
		return
	}

	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := assembleConfig()
	if err != nil {
		log.Fatal(err)
	}

	injector := createInputBackend(cfg)
	capturer := createScreenBackend(cfg)

	service := api.NewService(cfg, injector, capturer)
	server := api.NewServer(service, cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatal(err)
	}
}

// assembleConfig validates the selectors and runs device discovery.
func assembleConfig() (*config.RuntimeConfig, error) {
	in, err := config.ParseInputType(inputType)
	if err != nil {
		return nil, err
	}
	sc, err := config.ParseScreenType(screenBackend)
	if err != nil {
		return nil, err
	}

	cards := config.DefaultKMSCards()
	if kmsCard != "" {
		cards = []string{kmsCard}
	}

	cfg := &config.RuntimeConfig{
		Port:          port,
		InputBackend:  in,
		ScreenBackend: sc,
		KMSCards:      cards,
		KMSFormatRGB:  kmsFormatRGB,
		Verbose:       verbose,
	}

	if in == config.InputUinput {
		cfg.Devices = device.UinputDevices()
	} else if guessDevices {
		devices, err := device.Discover()
		if err != nil {
			log.Errorf("device discovery failed: %v", err)
		}
		cfg.Devices = devices
	}
	if verbose {
		cfg.Devices.Log()
	}
	return cfg, nil
}

// createInputBackend builds the single injection backend shared by all
// sessions. A uinput setup failure leaves input endpoints answering with an
// internal error while the rest of the daemon keeps serving.
func createInputBackend(cfg *config.RuntimeConfig) input.Backend {
	if cfg.InputBackend == config.InputEvdev {
		return input.NewEvdev()
	}

	uinput, err := input.NewUinput()
	if err != nil {
		log.Errorf("uinput backend unavailable: %v", err)
		return nil
	}
	return uinput
}

// createScreenBackend probes the configured capture path; nil means screen
// requests fail soft.
func createScreenBackend(cfg *config.RuntimeConfig) screen.Screen {
	if cfg.ScreenBackend == config.ScreenILM {
		log.Error("ILM screen backend is not built into this binary")
		return nil
	}

	if len(cfg.KMSCards) == 0 {
		log.Error("no KMS card candidates under /dev/dri")
		return nil
	}

	kms, err := screen.NewKMS(cfg.KMSCards, cfg.KMSFormatRGB)
	if err != nil {
		log.Errorf("KMS screen backend unavailable: %v", err)
		return nil
	}
	kms.StartStreamer()
	return kms
}
