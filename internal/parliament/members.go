package parliament

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type memberResponse struct {
	Value memberValue `json:"value"`
}

type memberValue struct {
	ID            int    `json:"id"`
	NameDisplayAs string `json:"nameDisplayAs"`
	LatestParty   struct {
		Name string `json:"name"`
	} `json:"latestParty"`
	LatestHouseMembership struct {
		House          int    `json:"house"`
		MembershipFrom string `json:"membershipFrom"`
	} `json:"latestHouseMembership"`
}

func (v memberValue) toInfo() MemberInfo {
	memberType := ""
	switch v.LatestHouseMembership.House {
	case 1:
		memberType = "MP"
	case 2:
		memberType = "Peer"
	}
	return MemberInfo{
		ID:           strconv.Itoa(v.ID),
		Name:         v.NameDisplayAs,
		Party:        v.LatestParty.Name,
		MemberType:   memberType,
		Constituency: v.LatestHouseMembership.MembershipFrom,
	}
}

// LookupMember resolves a member id to display details. Results are cached
// per client; a failed lookup caches an empty record so one dead id does not
// cost a retry storm during a large scan.
func (c *Client) LookupMember(ctx context.Context, memberID string) (MemberInfo, error) {
	c.cacheMu.Lock()
	if info, ok := c.memberCache[memberID]; ok {
		c.cacheMu.Unlock()
		return info, nil
	}
	c.cacheMu.Unlock()

	var resp memberResponse
	endpoint := c.cfg.Endpoints.Members + "/api/Members/" + url.PathEscape(memberID)
	err := c.getJSON(ctx, endpoint, nil, &resp)

	info := MemberInfo{ID: memberID}
	if err == nil {
		info = resp.Value.toInfo()
		if info.ID == "0" || info.ID == "" {
			info.ID = memberID
		}
	}

	c.cacheMu.Lock()
	c.memberCache[memberID] = info
	c.cacheMu.Unlock()
	if err != nil {
		return info, err
	}
	return info, nil
}

type memberSearchResponse struct {
	Items []struct {
		Value memberValue `json:"value"`
	} `json:"items"`
}

// SearchMembers finds current MPs and Peers by name. house 1 restricts
// results to the Commons, 2 to the Lords, 0 searches both.
func (c *Client) SearchMembers(ctx context.Context, query string, house int) ([]MemberInfo, error) {
	params := url.Values{}
	params.Set("Name", query)
	params.Set("IsCurrentMember", "true")
	params.Set("skip", "0")
	params.Set("take", "50")
	if house != 0 {
		params.Set("House", strconv.Itoa(house))
	}

	var resp memberSearchResponse
	endpoint := c.cfg.Endpoints.Members + "/api/Members/Search"
	if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}

	results := make([]MemberInfo, 0, len(resp.Items))
	for _, item := range resp.Items {
		info := item.Value.toInfo()
		if info.Name != "" {
			results = append(results, info)
		}
	}
	return results, nil
}

// Party is one active parliamentary party.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type partiesResponse struct {
	Items []struct {
		Value struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	} `json:"items"`
}

// Parties returns active parties across both houses, merged and sorted.
func (c *Client) Parties(ctx context.Context) ([]Party, error) {
	seen := make(map[string]Party)
	for _, house := range []string{"1", "2"} {
		var resp partiesResponse
		endpoint := c.cfg.Endpoints.Members + "/api/Parties/GetActive/" + house
		if err := c.getJSON(ctx, endpoint, nil, &resp); err != nil {
			continue
		}
		for _, item := range resp.Items {
			name := strings.TrimSpace(item.Value.Name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = Party{ID: strconv.Itoa(item.Value.ID), Name: name}
			}
		}
	}
	parties := make([]Party, 0, len(seen))
	for _, p := range seen {
		parties = append(parties, p)
	}
	sort.Slice(parties, func(i, j int) bool { return parties[i].Name < parties[j].Name })
	return parties, nil
}
