package imaging

import (
	"errors"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
)

// InspectArtifactContract reports every problem with the Stage 2 artifacts
// without running inference. An empty result means both are usable.
func InspectArtifactContract(modelPath, temperaturePath string) []string {
	problems := []string{}

	if problem := artifacts.CheckFile("model artifact", modelPath); problem != "" {
		problems = append(problems, problem)
	} else if _, err := LoadLinearHead(modelPath); err != nil {
		problems = append(problems, err.Error())
	}

	if _, err := LoadTemperature(temperaturePath); err != nil {
		var contract *domain.ArtifactContractError
		if errors.As(err, &contract) {
			problems = append(problems, contract.Problems...)
		} else {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

// InspectArtifacts wraps InspectArtifactContract as a health record.
func InspectArtifacts(modelPath, temperaturePath string, strict bool) domain.ArtifactHealth {
	return domain.NewArtifactHealth(strict, InspectArtifactContract(modelPath, temperaturePath))
}
