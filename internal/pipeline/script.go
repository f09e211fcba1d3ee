package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
)

// ScriptBody generates the episode scripts of a short drama and merges them
// into the story's metadata.shortDrama document.
func (p *Pipelines) ScriptBody(ctx context.Context, run *jobs.Run) error {
	in := run.Payload.(*domain.ScriptBodyPayload)
	if !configured(p.deps.ScriptBody) {
		return notConfigured("script body")
	}

	story, err := p.ownedStory(ctx, in.StoryID, run.Job.OwnerID)
	if err != nil {
		return err
	}
	metadata := asObject(decodeValue(story.Metadata))
	if metadata == nil {
		metadata = map[string]any{}
	}
	shortDrama := asObject(metadata["shortDrama"])
	if shortDrama == nil {
		shortDrama = map[string]any{}
	}

	planning := firstPresent(decodeValue(in.PlanningResult), shortDrama["planningResult"])
	world := firstPresent(decodeValue(in.WorldSetting), shortDrama["worldSetting"])
	characters := firstPresent(decodeValue(in.CharacterSettings), shortDrama["characterSetting"])

	outlines, err := p.deps.Stories.ListOutlines(ctx, story.ID)
	if err != nil {
		return fmt.Errorf("list outlines: %w", err)
	}

	var outlineJSON map[string]any
	totalEpisodes := 0
	if len(outlines) > 0 {
		outlineJSON = buildOutlineJSON(strings.TrimSpace(story.Title), outlines)
		for _, o := range outlines {
			if o.Sequence > totalEpisodes {
				totalEpisodes = o.Sequence
			}
		}
	} else {
		outlineJSON = normalizeOutlineJSON(firstPresent(decodeValue(in.OutlineJSON), shortDrama["outlineJson"]))
		totalEpisodes = outlineTotalEpisodes(outlineJSON)
	}
	outlineJSON = overrideOutlineEpisodes(outlineJSON, totalEpisodes)
	planning = overridePlanningEpisodes(planning, totalEpisodes)

	if err := run.Stage(ctx, domain.StageProviderCall); err != nil {
		return err
	}
	var outlineBody any
	if outlineJSON != nil {
		outlineBody = outlineJSON
	}
	res, err := p.deps.ScriptBody.Run(ctx, traceID(run, in.TraceID), map[string]any{
		"planning_result":    planning,
		"world_setting":      world,
		"character_settings": characters,
		"outline_json":       outlineBody,
	})
	if err != nil {
		return fmt.Errorf("script body call: %w", err)
	}
	if err := run.Stage(ctx, domain.StagePersisting); err != nil {
		return err
	}

	data := decodeValue(res.Data)
	scriptBody := extractScriptBody(data)
	if scriptBody == nil {
		scriptBody = data
	}
	scriptBody = filterEpisodes(scriptBody, allowedEpisodes(outlineJSON))

	next := copyObject(shortDrama)
	next["outlineJson"] = outlineBody
	next["scriptBody"] = scriptBody
	next["scriptBodyGeneratedAt"] = p.deps.Now().UnixMilli()
	merged := copyObject(metadata)
	merged["shortDrama"] = next
	rawMeta, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode story metadata: %w", err)
	}
	if err := p.deps.Stories.UpdateStoryMetadata(ctx, story.ID, rawMeta); err != nil {
		return err
	}

	rawBody, err := json.Marshal(scriptBody)
	if err != nil {
		return fmt.Errorf("encode script body: %w", err)
	}
	episodes := 0
	if list, ok := asObject(scriptBody)["episodes"].([]any); ok {
		episodes = len(list)
	}
	return jobs.Update(ctx, run, func(s *domain.ScriptBodySnapshot) {
		s.Result = &domain.ScriptBodyResult{
			StoryID:    story.ID,
			Episodes:   episodes,
			ScriptBody: rawBody,
		}
	})
}

func extractScriptBody(data any) any {
	obj := asObject(data)
	if obj == nil {
		return nil
	}
	if v, ok := obj["script_body"]; ok {
		return v
	}
	if nested := asObject(obj["data"]); nested != nil {
		if v, ok := nested["script_body"]; ok {
			return v
		}
	}
	return nil
}

func normalizeOutlineJSON(v any) map[string]any {
	obj := asObject(v)
	if obj == nil {
		return nil
	}
	if nested := asObject(obj["outline_json"]); nested != nil {
		return nested
	}
	return obj
}

func outlineTotalEpisodes(outlineJSON map[string]any) int {
	meta := asObject(outlineJSON["outline_meta"])
	if n, ok := toInt(meta["total_episodes"]); ok && n > 0 {
		return n
	}
	return 0
}

func overrideOutlineEpisodes(outlineJSON map[string]any, total int) map[string]any {
	if total <= 0 || outlineJSON == nil {
		return outlineJSON
	}
	out := copyObject(outlineJSON)
	meta := copyObject(asObject(outlineJSON["outline_meta"]))
	meta["total_episodes"] = total
	out["outline_meta"] = meta
	return out
}

// overridePlanningEpisodes sets parameter_module.total_episodes, looking
// through an optional planning_result wrapper.
func overridePlanningEpisodes(planning any, total int) any {
	root := asObject(planning)
	if total <= 0 || root == nil {
		return planning
	}
	wrapped := asObject(root["planning_result"])
	inner := root
	if wrapped != nil {
		inner = wrapped
	}
	nextInner := copyObject(inner)
	pm := copyObject(asObject(inner["parameter_module"]))
	pm["total_episodes"] = total
	nextInner["parameter_module"] = pm
	if wrapped == nil {
		return nextInner
	}
	out := copyObject(root)
	out["planning_result"] = nextInner
	return out
}

// allowedEpisodes collects the episode numbers listed in six_stage_outline,
// sorted and positive.
func allowedEpisodes(outlineJSON map[string]any) []int {
	six := asObject(outlineJSON["six_stage_outline"])
	seen := map[int]bool{}
	var out []int
	for _, stage := range six {
		list, _ := asObject(stage)["episodes"].([]any)
		for _, ep := range list {
			n, ok := toInt(asObject(ep)["episode"])
			if !ok || n <= 0 || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// filterEpisodes keeps script episodes whose number is allowed. When none
// match, the first len(allowed) episodes are kept instead.
func filterEpisodes(scriptBody any, allowed []int) any {
	if len(allowed) == 0 {
		return scriptBody
	}
	body := asObject(scriptBody)
	if body == nil {
		return scriptBody
	}
	list, ok := body["episodes"].([]any)
	if !ok {
		return scriptBody
	}
	set := make(map[int]bool, len(allowed))
	for _, n := range allowed {
		set[n] = true
	}
	kept := make([]any, 0, len(list))
	for _, item := range list {
		ep := asObject(item)
		n, ok := toInt(firstPresent(ep["episode"], ep["episode_num"], ep["sequence"]))
		if ok && set[n] {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		limit := len(allowed)
		if limit > len(list) {
			limit = len(list)
		}
		kept = list[:limit]
	}
	out := copyObject(body)
	out["episodes"] = kept
	return out
}

var (
	episodeLine  = regexp.MustCompile(`^第\s*\d+\s*集`)
	digits       = regexp.MustCompile(`\d+`)
	stageRange   = regexp.MustCompile(`（([^）]+)）`)
	labelPrefix  = regexp.MustCompile(`^.*[:：]\s*`)
	zeroWidth    = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")
	stageLetters = []struct{ char, key string }{
		{"起", "qi"}, {"困", "kun"}, {"升", "sheng"}, {"反", "fan"}, {"合", "he"}, {"结", "jie"},
	}
)

type outlineUnit struct {
	sequence     int
	scriptName   string
	theme        string
	coreConflict string
	stageName    string
	episodeRange string
	stageGoal    string
	episode      int
	corePlot     string
}

func parseOutlineUnit(o domain.Outline) outlineUnit {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(o.OriginalText, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(zeroWidth.Replace(l)); l != "" {
			lines = append(lines, l)
		}
	}
	pick := func(key string) string {
		for _, l := range lines {
			if strings.HasPrefix(l, key+"：") || strings.HasPrefix(l, key+":") {
				return strings.TrimSpace(labelPrefix.ReplaceAllString(l, ""))
			}
		}
		return ""
	}

	u := outlineUnit{
		sequence:     o.Sequence,
		scriptName:   pick("剧名"),
		theme:        pick("主题"),
		coreConflict: pick("核心冲突"),
		stageGoal:    pick("阶段目标"),
	}
	stageRaw := pick("阶段")
	if m := stageRange.FindStringSubmatch(stageRaw); m != nil {
		u.episodeRange = strings.TrimSpace(m[1])
	}
	u.stageName = strings.TrimSpace(stageRange.ReplaceAllString(stageRaw, ""))

	for i, l := range lines {
		if !episodeLine.MatchString(l) {
			continue
		}
		if n, ok := toInt(digits.FindString(l)); ok {
			u.episode = n
		}
		u.corePlot = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		break
	}
	if u.episode == 0 {
		u.episode = o.Sequence
	}
	if u.corePlot == "" {
		u.corePlot = strings.TrimSpace(o.OriginalText)
		if u.corePlot == "" {
			u.corePlot = strings.TrimSpace(o.OutlineText)
		}
	}
	return u
}

// buildOutlineJSON rebuilds the six-stage outline document from stored
// outline rows.
func buildOutlineJSON(title string, outlines []domain.Outline) map[string]any {
	units := make([]outlineUnit, len(outlines))
	for i, o := range outlines {
		units[i] = parseOutlineUnit(o)
	}

	var metaFrom *outlineUnit
	total := 0
	for i := range units {
		if metaFrom == nil && (units[i].scriptName != "" || units[i].theme != "" || units[i].coreConflict != "") {
			metaFrom = &units[i]
		}
		if units[i].episode > total {
			total = units[i].episode
		}
	}
	meta := map[string]any{
		"script_name":    title,
		"total_episodes": total,
		"theme":          "",
		"core_conflict":  "",
	}
	if metaFrom != nil {
		if metaFrom.scriptName != "" {
			meta["script_name"] = metaFrom.scriptName
		}
		meta["theme"] = metaFrom.theme
		meta["core_conflict"] = metaFrom.coreConflict
	}

	stages := map[string]any{}
	order := 0
	for _, u := range units {
		name := u.stageName
		if name == "" {
			name = "阶段"
		}
		key := stageKey(name)
		if key == "" {
			key = fmt.Sprintf("stage_%d", order+1)
		}
		stage, ok := stages[key].(map[string]any)
		if !ok {
			order++
			stage = map[string]any{
				"stage_name":    name,
				"episode_range": u.episodeRange,
				"core_goal":     u.stageGoal,
				"episodes":      []any{},
			}
			stages[key] = stage
		}
		stage["episodes"] = append(stage["episodes"].([]any), map[string]any{
			"episode":   u.episode,
			"core_plot": u.corePlot,
		})
	}

	return map[string]any{
		"outline_meta":      meta,
		"six_stage_outline": stages,
	}
}

func stageKey(name string) string {
	for _, s := range stageLetters {
		if strings.Contains(name, s.char) {
			return s.key
		}
	}
	return ""
}
