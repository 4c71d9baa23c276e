package object

import (
	"path"

	"caseflow-backend/internal/shared/util"
)

// AttachmentKey returns the deterministic storage key of a provider
// attachment, so a re-delivered webhook overwrites instead of duplicating.
func AttachmentKey(caseID, externalID, fileName string) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	ext, err := util.SanitizeFileName(externalID)
	if err != nil {
		return "", err
	}
	return path.Join(util.HashKey(caseID), "attachments", ext+"_"+name), nil
}
