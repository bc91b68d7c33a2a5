package bpfloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/AtomXCLO/android-system-bpf/internal/kernel"
)

const loadedProgramPinMode = 0440

// loadPrograms loads one program per collected code section: it
// requires a matching program definition, gates by kernel version,
// computes the pin path from the stripped-and-canonicalized section
// name, reuses or loads the program, and pins it with mode 0440 and
// the definition's owner. Each program's descriptor is closed once its
// own pin (or reuse) is settled; unlike a map's descriptor, nothing
// downstream needs it to stay open.
func loadPrograms(records []*codeSectionRecord, license string, prefix, objName string, kver uint32, log logrus.FieldLogger) error {
	for _, rec := range records {
		if rec.def == nil {
			return invalid(fmt.Sprintf("section %s", rec.originalName), fmt.Errorf(
				"no matching program definition (expected symbol %q)", firstSymbolHint(rec)))
		}

		if !rec.def.applicable(kver) {
			log.WithFields(logrus.Fields{"section": rec.originalName, "min_kver": rec.def.MinKver, "max_kver": rec.def.MaxKver}).
				Debug("program not applicable to running kernel, skipping")
			continue
		}

		pinName := stripVariantSuffix(rec.canonicalName)
		pinPath := progPinPath(prefix, objName, pinName)

		if _, err := os.Stat(pinPath); err == nil {
			fd, err := kernel.GetPinned(pinPath)
			if err != nil {
				return newError(FilesystemOp, fmt.Sprintf("retrieve pinned program %s", pinPath), err)
			}
			rec.progFD = int32(fd)
			log.WithField("pin", pinPath).Debug("reusing pinned program")
			rec.closeFD(log)
			continue
		}

		fd, verifierLog, err := kernel.LoadProgram(kernel.ProgLoadAttr{
			ProgType:           uint32(rec.progType),
			ExpectedAttachType: uint32(rec.expectedAttachType),
			KernelVersion:      kver,
			License:            license,
			Instructions:       rec.instructions,
			Name:               rec.canonicalName,
		})
		if err != nil {
			for _, line := range strings.Split(verifierLog, "\n") {
				if line != "" {
					log.WithField("section", rec.originalName).Error(line)
				}
			}
			if rec.def.Optional {
				log.WithFields(logrus.Fields{"section": rec.originalName}).WithError(err).
					Warn("optional program failed to load, skipping")
				continue
			}
			return newError(KernelRefused, fmt.Sprintf("load program %s", rec.originalName), err)
		}
		rec.progFD = int32(fd)

		if statfsType, err := kernel.StatfsType(filepath.Dir(pinPath)); err != nil {
			rec.closeFD(log)
			return newError(FilesystemOp, fmt.Sprintf("statfs %s", pinPath), err)
		} else if err := verifyBpfFS(statfsType); err != nil {
			rec.closeFD(log)
			return err
		}
		if err := kernel.Pin(int(fd), pinPath); err != nil {
			rec.closeFD(log)
			return newError(FilesystemOp, fmt.Sprintf("pin program %s", pinPath), err)
		}
		if err := kernel.Chmod(pinPath, loadedProgramPinMode); err != nil {
			rec.closeFD(log)
			return err
		}
		if err := kernel.Chown(pinPath, rec.def.UID, rec.def.GID); err != nil {
			rec.closeFD(log)
			return err
		}

		if info, err := kernel.ProgInfoByFD(fd); err != nil {
			log.WithError(err).WithField("section", rec.originalName).Warn("failed to fetch program id")
		} else {
			log.WithFields(logrus.Fields{"section": rec.originalName, "id": info.ID}).Debug("program loaded")
		}

		rec.closeFD(log)
	}
	return nil
}

func firstSymbolHint(rec *codeSectionRecord) string {
	return "<first function symbol of " + rec.originalName + ">_def"
}
