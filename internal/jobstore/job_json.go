package jobstore

import "encoding/json"

// jobAlias avoids infinite recursion through Job's custom (Un)MarshalJSON.
type jobAlias Job

// MarshalJSON writes the known fields and re-merges any unknown fields
// captured at load time, so the Job file format can gain fields from a
// future version (or from an operator's manual edit) without this
// process's writes clobbering them.
func (j Job) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(jobAlias(j))
	if err != nil {
		return nil, err
	}
	if len(j.unknownFields) == 0 {
		return known, nil
	}

	merged := map[string]any{}
	for k, v := range j.unknownFields {
		merged[k] = v
	}
	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var alias jobAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*j = Job(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known, err := json.Marshal(jobAlias(*j))
	if err != nil {
		return err
	}
	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return err
	}

	unknown := map[string]any{}
	for k, v := range raw {
		if _, ok := knownMap[k]; !ok {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				continue
			}
			unknown[k] = val
		}
	}
	if len(unknown) > 0 {
		j.unknownFields = unknown
	}
	return nil
}
